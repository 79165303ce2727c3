package chain

import "github.com/hashledger/hashledger/apperr"

// VerifyPersonalChain replays entries in order from an optional anchor,
// checking index continuity, prevHash linkage, recomputed hash, and owner
// signature on every entry. It stops at the first violation.
func VerifyPersonalChain(entries []*PersonalEntry, ownerAddress string, anchor *ChainAnchor) error {
	var head *PersonalEntry
	start := 0

	if anchor != nil {
		for i, e := range entries {
			if e.Index == anchor.Index {
				if e.Hash != anchor.Hash {
					return apperr.New(400, apperr.CodeChainBroken, "entry at anchor index does not match anchor hash")
				}
				head = e
				start = i + 1
				break
			}
		}
	}

	for _, e := range entries[start:] {
		outcome, err := ValidatePersonalEntry(head, e, ownerAddress)
		if err != nil {
			return err
		}
		switch outcome {
		case OutcomeAccepted:
			head = e
		case OutcomeDuplicate:
			continue
		case OutcomeGap:
			return apperr.New(409, apperr.CodeGapDetected, "chain has a gap before index "+itoa(e.Index))
		}
	}
	return nil
}
