package custody

import "errors"

var (
	// ErrNotFound is returned when an investigation or evidence record does
	// not exist.
	ErrNotFound = errors.New("custody: not found")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("custody: invalid input")

	// ErrCaseNumberTaken rejects a duplicate case number.
	ErrCaseNumberTaken = errors.New("custody: case number already taken")

	// ErrInvestigationArchived rejects new evidence on an archived case.
	ErrInvestigationArchived = errors.New("custody: investigation is archived")

	// ErrAlreadyArchived is returned by archival of an archived case.
	// Repeated archive calls are safe; no duplicate cold transactions.
	ErrAlreadyArchived = errors.New("custody: investigation already archived")

	// ErrNotArchived is returned by reopen on an active case.
	ErrNotArchived = errors.New("custody: investigation is not archived")

	// ErrReasonRequired rejects a reopen without a stated reason.
	ErrReasonRequired = errors.New("custody: reopen reason is required")

	// ErrArchiveIncomplete rejects the archived-status flip while any
	// evidence row still lacks a cold-chain reference. A submission that
	// commits between enumeration and the flip triggers this; the archival
	// pass re-enumerates and retries.
	ErrArchiveIncomplete = errors.New("custody: evidence without cold reference")

	// ErrPendingReconciliation marks a submission whose collaborator call
	// timed out: the side effect is in unknown state and the submission is
	// parked for an idempotent digest-keyed retry, not rolled back.
	ErrPendingReconciliation = errors.New("custody: submission pending reconciliation")
)
