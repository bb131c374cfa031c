// Package audit inspects workflow snapshots through named lenses and reports
// anomalies.
//
// Framework is a lookup table from Lens to Evaluator; Hook adapts a
// selection of lenses to workflow.AuditHook so the dispatcher can call it at
// layer boundaries. Findings are advisory only.
package audit
