// Package heartbeat defines the heartbeat message and the two ends of a
// heartbeat stream.
//
// A Stream is consumed by the control plane's StreamHeartbeats handler. It
// is implemented by the WebSocket session in package controlplane and by
// BusStream, which reads heartbeats published to a message bus subject.
//
// A Publisher is written to by a Sender on the agent side. The agent's
// WebSocket stream and BusPublisher both implement it.
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//	    Publisher: stream,
//	    NodeName:  "worker-1",
//	    Interval:  time.Second,
//	})
//	sender.Start(ctx)
//	defer sender.Stop()
//
// The first heartbeat is sent as soon as the sender starts. A failed send
// ends the loop; Err reports why.
package heartbeat
