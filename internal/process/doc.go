// Package process spawns external commands and tracks them through their
// lifecycle.
//
// A Handle is created Pending by SpawnBuilder.Build and only starts when
// Start is called, so observers can register before any output exists.
// Output is copied by background goroutines into a pending queue; the owner
// of the handle consumes it with Drain on its own goroutine, in the order the
// bytes arrived.
//
//	h, err := process.NewSpawnBuilder(ctx).
//	    WithCommand(process.Args("make", "test")).
//	    WithEnv(ec.Environ()).
//	    WithTimeout(5 * time.Minute).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	if err := h.Start(); err != nil {
//	    return err
//	}
//	for h.IsRunning() {
//	    h.Drain(func(c process.Chunk) { os.Stdout.Write(c.Data) })
//	    <-h.Notify()
//	}
//	code := h.Wait()
package process
