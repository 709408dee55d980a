package ldapwire

import "github.com/VictoriaMetrics/metrics"

// Process-wide counters for pool and operation activity. Exposed through
// the default metrics set; callers serve them with metrics.WritePrometheus.
var (
	poolCheckouts            = metrics.NewCounter("ldapwire_pool_checkouts_total")
	poolCheckoutFailures     = metrics.NewCounter("ldapwire_pool_checkout_failures_total")
	poolConnectionsCreated   = metrics.NewCounter("ldapwire_pool_connections_created_total")
	poolConnectionsDiscarded = metrics.NewCounter("ldapwire_pool_connections_discarded_total")
	poolDefunctReplacements  = metrics.NewCounter("ldapwire_pool_defunct_replacements_total")

	operationsTotal   = metrics.NewCounter("ldapwire_operations_total")
	operationRetries  = metrics.NewCounter("ldapwire_operation_retries_total")
	operationFailures = metrics.NewCounter("ldapwire_operation_failures_total")
	searchPages       = metrics.NewCounter("ldapwire_search_pages_total")
	searchEntries     = metrics.NewCounter("ldapwire_search_entries_total")
)
