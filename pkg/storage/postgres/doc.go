// Package postgres opens the PostgreSQL connection pool backing the audit store.
//
// Connect applies pool limits from configuration and retries the initial ping so the
// service can start alongside a database that is still booting. HealthProbe plugs the
// pool into the readiness endpoint.
package postgres
