package importer

// dryrun.go runs the full row sequence through the Validation Engine plus
// duplicate detection without writing anything. It reads persisted data only
// through RecordStore.ExistingKeys, so two consecutive simulations of an
// unchanged file against unchanged data produce identical summaries, and no
// number of simulations moves the job's checkpoint or counters.

import "context"

// MaxSampleErrors bounds the error sample returned in a DryRunSummary.
const MaxSampleErrors = 50

// Simulate produces the projected outcome of committing src for the given
// company, entity contract, and mapping.
func Simulate(ctx context.Context, companyID string, c *Contract, m Mapping, src RowSource, records RecordStore, chunkSize int) (DryRunSummary, error) {
	if chunkSize <= 0 {
		chunkSize = 200
	}

	summary := DryRunSummary{TotalRows: src.TotalRows()}

	reader, err := src.Rows()
	if err != nil {
		return summary, err
	}
	defer reader.Close()

	eval := newEvaluator(companyID, c, m, records)

	apply := func(chunk []Row) error {
		verdicts, err := eval.evaluateChunk(ctx, chunk)
		if err != nil {
			return err
		}
		for _, v := range verdicts {
			switch v.Kind {
			case VerdictRejected:
				summary.Rejected++
			case VerdictAcceptedWithWarnings:
				summary.Accepted++
				summary.Warnings++
			default:
				summary.Accepted++
			}
			for _, re := range v.Errors {
				if len(summary.SampleErrors) < MaxSampleErrors {
					summary.SampleErrors = append(summary.SampleErrors, re)
				} else {
					summary.Truncated = true
				}
			}
		}
		return nil
	}

	if err := forEachChunk(ctx, reader, chunkSize, apply); err != nil {
		return DryRunSummary{}, err
	}
	return summary, nil
}
