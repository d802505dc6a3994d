// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

/*
Package hybrid routes consensus rule selection across the proof-of-work to
proof-of-stake merge.

The schedule wraps two rule sets:
- A pre-merge rule set (difficulty based, ethash style) used until the
  terminal total difficulty is reached
- A post-merge rule set (beacon driven) used for every block after it

Which rule set applies to a header is decided by a transition predicate that
depends only on the header and immutable chain data, never on the current
chain head. Re-validating an old block therefore always picks the same rules.

Usage:

	pre := rules.NewPoW(genesis.Config)
	post := rules.NewBeacon()

	// Blocks whose parent total difficulty reached the TTD use post-merge rules
	schedule, err := hybrid.New(pre, post, hybrid.TerminalPredicate(ttd, chain))
	if err != nil {
		log.Crit("Failed to create rule schedule", "err", err)
	}
	if err := schedule.VerifyHeader(header, parent); err != nil {
		return err
	}

The package also provides Context, which holds the consensus contexts of both
regimes side by side and resolves lookups by capability.
*/
package hybrid
