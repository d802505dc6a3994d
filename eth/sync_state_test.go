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

package eth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSyncStateTolerance(t *testing.T) {
	s := NewSyncState(2)
	require.False(t, s.InSync())

	s.UpdateChainHead(10)
	require.True(t, s.InSync())

	s.UpdateBestKnown(12)
	require.True(t, s.InSync(), "within tolerance")

	s.UpdateBestKnown(13)
	require.False(t, s.InSync())
	require.Equal(t, uint64(10), s.ChainHead())
	require.Equal(t, uint64(13), s.BestKnown())

	// Lower announcements never reduce the best known head.
	s.UpdateBestKnown(5)
	require.Equal(t, uint64(13), s.BestKnown())

	s.UpdateChainHead(11)
	require.True(t, s.InSync())
}

func TestSyncStateEvents(t *testing.T) {
	s := NewSyncState(0)
	defer s.Close()

	events := make(chan SyncStatusEvent, 4)
	sub := s.SubscribeSyncStatus(events)
	defer sub.Unsubscribe()

	s.UpdateChainHead(1) // enters sync
	s.UpdateChainHead(2) // no change
	s.UpdateBestKnown(5) // leaves sync

	want := []SyncStatusEvent{
		{InSync: true, ChainHead: 1, BestKnown: 1},
		{InSync: false, ChainHead: 2, BestKnown: 5},
	}
	for i, w := range want {
		select {
		case ev := <-events:
			require.Equal(t, w, ev, "event %d", i)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}
