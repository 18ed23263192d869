// Package history keeps an append-only log of guest reports in SQLite.
//
// The log is an audit trail only; the guest registry is never rebuilt from
// it. Writes go through a Recorder, which buffers reports in a bounded
// channel so the command router never waits on disk I/O:
//
//	repo := history.NewSQLiteRepository(db.DB)
//	rec := history.NewRecorder(repo, history.RecorderOptions{BufferSize: 256})
//	go rec.Run(ctx)
//	defer rec.Close()
//
//	rec.Record(history.Report{MAC: mac, Command: "CBUT", ButtonPresses: 5})
//
// Reports that do not fit in the buffer are dropped and counted.
package history
