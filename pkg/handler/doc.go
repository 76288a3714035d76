// Package handler provides the synchronous turboprint handlers: console
// streams, rotating files, the systemd journal and in-process publishers.
//
// Every handler applies its own level and filters, formats the record and
// delivers it. Errors are returned to the dispatching logger, which reports
// them through the registry fallback; a handler never panics on bad input.
package handler
