package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/ioforge/iodme"
	"github.com/ioforge/iodme/internal/logging"
)

func main() {
	var (
		outputDir     = flag.String("output-dir", iodme.DefaultOutputDir, "Directory to write received frames into")
		sinkPort      = flag.Int("sink-port", iodme.DefaultSinkPort, "TCP port to listen on")
		buffSizeMB    = flag.Int("buff-size", iodme.DefaultBuffSizeMB, "Size of each buffer, in megabytes")
		buffCount     = flag.Int("buff-count", iodme.DefaultBuffCount, "Number of buffers in the pool")
		writerThreads = flag.Int("writer-threads", iodme.DefaultWriterThreads, "Number of file writer threads")
		hugepages     = flag.Bool("hugepages", false, "Back buffers with MAP_HUGETLB")
		directio      = flag.Bool("directio", false, "Open output files with O_DIRECT")
		memfd         = flag.Bool("memfd", false, "Back buffers with memfd for sendfile-based writes")
		splice        = flag.Bool("splice", false, "Use vmsplice+splice instead of a plain write for non-memfd buffers")
		timesource    = flag.String("timesource", "wall", "Clock used for log timestamps: wall or monotonic")
		verbose       = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	switch *timesource {
	case "wall":
		logConfig.Clock = time.Now
	case "monotonic":
		start := time.Now()
		mono := time.Now()
		logConfig.Clock = func() time.Time {
			return start.Add(time.Since(mono))
		}
	default:
		log.Fatalf("unknown timesource %q, want wall or monotonic", *timesource)
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	params := iodme.SinkParams{
		OutputDir:     *outputDir,
		SinkPort:      *sinkPort,
		BuffSizeMB:    *buffSizeMB,
		BuffCount:     *buffCount,
		WriterThreads: *writerThreads,
		HugePages:     *hugepages,
		DirectIO:      *directio,
		Memfd:         *memfd,
		Splice:        *splice,
	}

	metrics := iodme.NewMetrics()
	observer := iodme.NewMetricsObserver(metrics)

	logger.Info("starting sink", "port", *sinkPort, "output_dir", *outputDir,
		"buff_size_mb", *buffSizeMB, "buff_count", *buffCount, "writer_threads", *writerThreads)

	sink, err := iodme.CreateAndServe(params, &iodme.Options{
		Logger:   logger,
		Observer: observer,
	})
	if err != nil {
		logger.Error("failed to start sink", "error", err)
		os.Exit(1)
	}

	fmt.Printf("iodme-sink listening on port %d\n", *sinkPort)
	fmt.Printf("writing frames into %s\n", *outputDir)
	fmt.Printf("\nPress Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			logger.Info("=== GOROUTINE STACK TRACE DUMP ===")
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n")
			fmt.Fprintf(os.Stderr, "%s\n", buf[:n])
			fmt.Fprintf(os.Stderr, "=== END STACK DUMP ===\n\n")

			filename := fmt.Sprintf("iodme-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\n", time.Now().Format(time.RFC3339))
				fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
				f.Write(buf[:n])

				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)

				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}

			snap := metrics.Snapshot()
			logger.Info("metrics snapshot",
				"recv_ops", snap.RecvOps, "recv_bytes", snap.RecvBytes,
				"write_ops", snap.WriteOps, "write_bytes", snap.WriteBytes,
				"buffer_stalls", snap.BufferStalls, "queue_drops", snap.QueueDrops)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	cleanupDone := make(chan bool)
	go func() {
		if err := iodme.Stop(sink); err != nil {
			logger.Error("error stopping sink", "error", err)
		} else {
			logger.Info("sink stopped successfully")
		}
		cleanupDone <- true
	}()

	select {
	case <-cleanupDone:
	case <-time.After(1 * time.Second):
		logger.Info("cleanup timeout, forcing exit")
	}

	os.Exit(0)
}
