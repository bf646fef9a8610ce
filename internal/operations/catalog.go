package operations

// Spec describes one bulk operation exposed by the console.
type Spec struct {
	Name    string
	Command string
	JobName string
	Verb    string
	Noun    string
	// MutatesConfig operations also invalidate the cached domain list.
	MutatesConfig bool
}

// statusCommand answers the cached per-domain status reads.
const statusCommand = "val_get_status"

// Catalog lists every operation in display order.
var Catalog = []Spec{
	{Name: "schema-sync", Command: "val_sync_all", JobName: "Schema sync", Verb: "Syncing"},
	{Name: "config-sync", Command: "val_sync_domain_config", JobName: "Domain config sync", Verb: "Syncing config for", MutatesConfig: true},
	{Name: "monitoring-sync", Command: "val_sync_monitoring", JobName: "Monitoring sync", Verb: "Syncing monitoring for"},
	{Name: "sod-sync", Command: "val_sync_sod_tables", JobName: "SOD table sync", Verb: "Syncing SOD tables for"},
	{Name: "importer-errors", Command: "val_sync_importer_errors", JobName: "Importer error sync", Verb: "Syncing importer errors for"},
	{Name: "integration-errors", Command: "val_sync_integration_errors", JobName: "Integration error sync", Verb: "Syncing integration errors for"},
	{Name: "s3-publish", Command: "val_publish_s3", JobName: "S3 publish", Verb: "Publishing"},
	{Name: "query-health", Command: "val_run_query_health", JobName: "Query health check", Verb: "Checking query health for"},
	{Name: "workflow-health", Command: "val_run_workflow_health", JobName: "Workflow health check", Verb: "Checking workflow health for"},
	{Name: "dashboard-health", Command: "val_run_dashboard_health", JobName: "Dashboard health check", Verb: "Checking dashboard health for"},
	{Name: "data-health", Command: "val_run_data_health", JobName: "Data health check", Verb: "Checking data health for"},
	{Name: "artifact-audit", Command: "val_audit_artifacts", JobName: "Artifact audit", Verb: "Auditing"},
	{Name: "overview", Command: "val_generate_overview", JobName: "Overview generation", Verb: "Generating overview for"},
}
