// Package platform provides the process data sources procmon samples.
//
// A Platform bundles the four host-facing pieces the sampling engine needs:
// the host application's own process metrics, the operating system process
// table, a liveness check and a diagnostics opener. Two implementations
// exist: a local one backed by gopsutil and a remote one that reads a
// Linux host's procfs over SSH without installing anything there.
//
// # Usage
//
// Observing a local Electron application by name:
//
//	p := platform.NewPlatform(platform.Target{RootName: "electron"}, logger)
//	if err := p.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	src := monitor.NewMetricSource(p.AppMetrics(), p.Processes(), 0)
//
// # Target selection
//
// The application's process tree is the root process and all of its
// descendants. The root is given by pid, or by name, in which case the
// oldest process with that name wins. An empty Target observes the whole
// process table.
//
// # Process kinds
//
// Chromium-based hosts pass the role of each helper process as a --type
// flag. Renderers become Tab, gpu-process becomes GPU and so on; the root
// is the Browser. Other roles are carried through verbatim.
//
// # Thread Safety
//
// All sources are safe for concurrent use from multiple goroutines.
package platform
