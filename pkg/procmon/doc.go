// Package procmon provides the public API for embedding the go-procmon
// process monitor. It samples a host application's process tree on a fixed
// cadence, correlates it with the system process table and delivers
// snapshots to a sink.
//
// # Basic Usage
//
// Create an instance from a configuration file and start it:
//
//	m, err := procmon.New("/path/to/procmon.lua", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Stop()
//
//	if err := m.Start(); err != nil {
//		log.Fatal(err)
//	}
//	<-m.Done()
//
// # Configuration Sources
//
//   - Disk file: Use [New] to load from a filesystem path
//   - Embedded FS: Use [NewFromFS] to load from an [io/fs.FS]
//   - io.Reader: Use [NewFromReader] for dynamic configurations
//   - Built-in defaults: Use [NewWithDefaults]
//
// # Lifecycle Management
//
// The [Monitor] interface provides full lifecycle control. A run ends when
// [Monitor.Stop] is called or when the sink closes, for example because
// the user quit the terminal UI; [Monitor.Done] is closed in both cases.
// [Monitor.ReloadConfig] applies sampling settings in place and
// [Monitor.Restart] applies everything else.
//
// # Embedding
//
// [Options] can replace the platform and the sink, which is how
// applications feed snapshots into their own pipelines:
//
//	m, _ := procmon.NewWithDefaults(&procmon.Options{
//		RootPID: os.Getpid(),
//		Sink: monitor.SinkFunc(func(ctx context.Context, s *monitor.Snapshot) error {
//			fmt.Println(s.Count, "processes")
//			return nil
//		}),
//	})
//
// # Error Handling
//
// Runtime errors are reported through [ErrorHandler], counted in
// [Metrics] and categorized by [ErrorTracker]. Handlers are called
// asynchronously; do not block in them.
package procmon
