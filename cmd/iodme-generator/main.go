// Command iodme-generator is a trivial rate-paced traffic synthesizer:
// it opens one TCP connection to a sink and streams contiguous
// zero-filled frames at a fixed rate. It writes zeros rather than
// pseudo-random payloads and applies no framing header; the sink
// recovers frame boundaries only by matching its own buffer capacity.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	var (
		sinkHost  = flag.String("sink-host", "127.0.0.1", "Sink host to connect to")
		sinkPort  = flag.Int("sink-port", 15740, "Sink TCP port to connect to")
		frameSize = flag.Int("frame-size", 4*1024*1024, "Bytes to send per frame")
		frameRate = flag.Float64("frame-rate", 30, "Frames per second to send")
		name      = flag.String("name", "stream0", "Stream name, for operator-visible logging only")
	)
	flag.Parse()

	if *frameSize <= 0 {
		log.Fatalf("--frame-size must be positive, got %d", *frameSize)
	}
	if *frameRate <= 0 {
		log.Fatalf("--frame-rate must be positive, got %f", *frameRate)
	}

	addr := fmt.Sprintf("%s:%d", *sinkHost, *sinkPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("failed to connect to sink at %s: %v", addr, err)
	}
	defer conn.Close()

	log.Printf("stream %s: connected to %s, sending %d-byte frames at %.2f fps",
		*name, addr, *frameSize, *frameRate)

	frame := make([]byte, *frameSize)
	period := time.Duration(float64(time.Second) / *frameRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var framesSent uint64
	for {
		select {
		case <-sigCh:
			log.Printf("stream %s: sent %d frames, shutting down", *name, framesSent)
			return
		case <-ticker.C:
			if err := sendFrame(conn, frame); err != nil {
				log.Fatalf("stream %s: send failed after %d frames: %v", *name, framesSent, err)
			}
			framesSent++
		}
	}
}

// sendFrame writes the full frame to conn, looping over short writes.
func sendFrame(conn net.Conn, frame []byte) error {
	remaining := frame
	for len(remaining) > 0 {
		n, err := conn.Write(remaining)
		if err != nil {
			return err
		}
		remaining = remaining[n:]
	}
	return nil
}
