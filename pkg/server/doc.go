// Package server accepts remote browser clients over WebSocket and serves
// the HTTP control surface.
//
// Each connection owns at most one session: a render target streaming
// frames to the connection. The Registry creates, replaces and tears
// down sessions. The HealthMonitor probes every connection and
// disconnects those that stop answering. Teardown reclaims the
// session's workspace and schedules a workspace sweep.
//
// # Wire protocol
//
// Every WebSocket message is one binary protocol frame:
//
//	Client → Server: Session (URL), Input (input event), Control (ping, pong, close)
//	Server → Client: Image (PNG or JPEG), Navigation (URL), Error, Control (pong, close)
//
// # HTTP endpoints
//
//	GET  /ws       WebSocket upgrade
//	GET  /health   {"status":"ok"}
//	POST /cleanup  clear session caches and sweep workspaces
//	GET  /metrics  Prometheus exposition, or JSON with Accept: application/json
//
// # Usage
//
//	srv := server.New(server.DefaultConfig(), rodengine.New(logger), logger)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
