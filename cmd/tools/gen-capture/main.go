// Command gen-capture writes a synthetic gaze bridge capture for
// testing replay. The output is a pcap of UDP datagrams in the bridge
// wire format: 50Hz gaze samples with a skewed, slowly drifting device
// clock, plus a scene event marker every few seconds.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type datagram struct {
	Type          string            `json:"type"`
	Timestamp     float64           `json:"timestamp"`
	GazeTimestamp float64           `json:"gazeTimestamp,omitempty"`
	Confidence    float64           `json:"confidence,omitempty"`
	X             float64           `json:"x,omitempty"`
	Y             float64           `json:"y,omitempty"`
	Event         string            `json:"event,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func main() {
	output := flag.String("o", "sample.pcap", "output path")
	count := flag.Int("n", 500, "number of gaze datagrams")
	port := flag.Int("port", 4242, "destination UDP port")
	skew := flag.Float64("skew", 40, "device clock skew in ms")
	drift := flag.Float64("drift", 0.02, "device clock drift in ms per sample")
	flag.Parse()

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("create %s: %v", *output, err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("write pcap header: %v", err)
	}

	const step = 20 * time.Millisecond
	start := time.Now().Add(-time.Duration(*count) * step)
	for i := 0; i < *count; i++ {
		at := start.Add(time.Duration(i) * step)
		ms := float64(at.UnixNano()) / 1e6

		var d datagram
		if i > 0 && i%250 == 0 {
			d = datagram{
				Type:      "event",
				Timestamp: ms,
				Event:     "scene_marker",
				Metadata:  map[string]string{"n": fmt.Sprint(i / 250)},
			}
		} else {
			phase := float64(i) / 50
			d = datagram{
				Type:          "gaze",
				Timestamp:     ms,
				GazeTimestamp: (ms + *skew + *drift*float64(i)) * 1000,
				Confidence:    0.85 + 0.1*math.Sin(phase/3),
				X:             0.5 + 0.3*math.Sin(phase),
				Y:             0.5 + 0.2*math.Cos(phase),
			}
		}
		payload, err := json.Marshal(d)
		if err != nil {
			log.Fatalf("marshal datagram %d: %v", i, err)
		}

		data, err := udpFrame(layers.UDPPort(*port), payload)
		if err != nil {
			log.Fatalf("serialize datagram %d: %v", i, err)
		}
		ci := gopacket.CaptureInfo{Timestamp: at, CaptureLength: len(data), Length: len(data)}
		if err := w.WritePacket(ci, data); err != nil {
			log.Fatalf("write datagram %d: %v", i, err)
		}

		if (i+1)%100 == 0 {
			log.Printf("%d/%d datagrams", i+1, *count)
		}
	}
	log.Printf("✓ Created: %s", *output)
}

// udpFrame serializes an ethernet/IPv4/UDP frame carrying payload.
func udpFrame(dstPort layers.UDPPort, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{127, 0, 0, 1},
		DstIP:    net.IP{127, 0, 0, 1},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: dstPort}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
