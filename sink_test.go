package iodme

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestSinkRoundTripWritesFile(t *testing.T) {
	outDir := t.TempDir()

	sink, err := CreateAndServe(SinkParams{
		OutputDir:     outDir,
		SinkPort:      0,
		BuffSizeMB:    1,
		BuffCount:     2,
		WriterThreads: 1,
	}, nil)
	if err != nil {
		t.Fatalf("CreateAndServe: %v", err)
	}

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(sink.ListenPort()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	time.Sleep(50 * time.Millisecond)

	if err := Stop(sink); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(outDir, "data-stream-*.000000"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one output file, got %v", matches)
	}

	info, err := os.Stat(matches[0])
	if err != nil {
		t.Fatalf("stat output file: %v", err)
	}
	if info.Size() != int64(len(payload)) {
		t.Errorf("expected output file of %d bytes, got %d", len(payload), info.Size())
	}
}
