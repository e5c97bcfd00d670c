// Package shutdown coordinates graceful shutdown of the control plane and the
// node agent.
//
// Handlers register at a phase; lower phases run first and handlers within a
// phase run concurrently. Coordinator.Context is cancelled the moment
// shutdown starts, so loops started under it begin winding down before the
// first phase runs.
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.HandleSignals()
//
//	coord.RegisterFunc("http", shutdown.PhaseIngress, srv.Shutdown)
//	coord.RegisterFunc("bus", shutdown.PhaseBackends, func(context.Context) error {
//	    return b.Close()
//	})
//
//	go mon.Run(coord.Context())
//	<-coord.Done()
package shutdown
