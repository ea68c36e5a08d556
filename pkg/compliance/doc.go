/*
Package compliance derives regulatory compliance reports from the audit trail.

Each regulation is described by a RuleSet: named partitions of the flagged
events, percentage scores and recommendation lines. GenerateReport fetches the
events flagged for a regulation within a window and evaluates its rule set.
Every score is 100 when its denominator is empty.

	reporter := compliance.NewReporter(store, compliance.DefaultConfig())
	report, err := reporter.GenerateReport(ctx, audit.RegulationGDPR, start, end, "")

The dashboard summarizes GDPR, PCI_DSS, SOX and HIPAA together: per-regulation
compliant share, their mean, a daily trend and risk indicators. Unlike audit
writes, every read failure is returned to the caller.
*/
package compliance
