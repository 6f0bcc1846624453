// Package device defines the normalized device snapshot model and the
// resolution pipeline that produces the canonical per-user device list:
// live gateway state merged with backend display overrides, classified
// for the dashboard, and filtered by tenant area grants.
package device
