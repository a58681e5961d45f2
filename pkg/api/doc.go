// Package api assembles the permitdesk HTTP API.
//
// # Overview
//
// NewServices wires the domain layer (rbac, assignment, history, permits,
// chalans, auth) over one *sql.DB. NewServer mounts every package's
// handlers on a gorilla/mux router:
//
//	services, err := api.NewServices(db, api.Options{Authz: cfg.Authz, Notifier: dispatcher})
//	server := api.NewServer(services,
//		api.WithServerLogger(logger),
//		api.WithServerMetrics(metrics),
//		api.WithRateLimit(limits),
//	)
//	http.ListenAndServe(":8080", server.TracedHandler())
//
// # Request pipeline
//
// Outside the router: request id, request logging, panic recovery, body
// size limit and JSON content type enforcement. On matched routes: HTTP
// metrics, bearer token authentication (anonymous requests continue), rate
// limiting, then the per-route authorization done by rbac.
//
// # Routes
//
//	/rbac/...           roles, features, user role bindings, caller introspection
//	/history            audit ledger query and export
//	/permits/...        permit lifecycle; /permits/lookup is public
//	/chalans/...        chalan lifecycle and payments
//	/vehicle-fees/...   chalan fee structure
//	/auth/tokens        API token management
package api
