// Package cmd contains the standalone binaries.
//
//   - reportsrv: the report distribution service (HTTP + PostgreSQL)
//   - tracectl: a demo device CLI driving a local tracing core
//
// Shared configuration loading lives in cmd/common. Both binaries accept a
// YAML configuration file plus flag overrides.
package cmd
