// Package api serves the cloud link's local HTTP interface.
//
// Endpoints:
//
//	GET  /api/v1/health                         component health
//	GET  /api/v1/limiters                       daily budget of every binding
//	GET  /api/v1/limiters/{source}              one binding's budget
//	GET  /api/v1/sources                        link and auth state per binding
//	POST /api/v1/sources/{source}/poll/{kind}   poll now; body {"subject": "..."} optional
//	GET  /metrics                               Prometheus metrics
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
