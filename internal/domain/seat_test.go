package domain

import "testing"

func TestFindFreeSeatPicksLowestID(t *testing.T) {
	seats := NewSeats(5)
	if !AssignSeat(seats, 1, "alice") {
		t.Fatalf("assign seat 1 failed")
	}
	if !AssignSeat(seats, 3, "bob") {
		t.Fatalf("assign seat 3 failed")
	}
	id, found := FindFreeSeat(seats)
	if !found || id != 2 {
		t.Fatalf("FindFreeSeat = %d, %v; want 2, true", id, found)
	}
}

func TestFindFreeSeatSkipsLocked(t *testing.T) {
	seats := NewSeats(3)
	LockSeat(seats, 1, true)
	LockSeat(seats, 2, true)
	id, found := FindFreeSeat(seats)
	if !found || id != 3 {
		t.Fatalf("FindFreeSeat = %d, %v; want 3, true", id, found)
	}
	LockSeat(seats, 3, true)
	if _, found := FindFreeSeat(seats); found {
		t.Fatalf("FindFreeSeat found a seat in a fully locked map")
	}
}

func TestAssignSeat(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(seats []Seat)
		seatID int
		want   bool
	}{
		{"free seat", func([]Seat) {}, 2, true},
		{"occupied seat", func(s []Seat) { AssignSeat(s, 2, "bob") }, 2, false},
		{"locked seat", func(s []Seat) { LockSeat(s, 2, true) }, 2, false},
		{"out of bounds high", func([]Seat) {}, 4, false},
		{"out of bounds zero", func([]Seat) {}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seats := NewSeats(3)
			tt.setup(seats)
			if got := AssignSeat(seats, tt.seatID, "alice"); got != tt.want {
				t.Fatalf("AssignSeat(%d) = %v, want %v", tt.seatID, got, tt.want)
			}
		})
	}
}

func TestReleaseSeatIdempotent(t *testing.T) {
	seats := NewSeats(2)
	AssignSeat(seats, 1, "alice")
	ReleaseSeat(seats, 1)
	ReleaseSeat(seats, 1)
	if seats[0].Occupied || seats[0].AssignedIdentity != "" {
		t.Fatalf("seat 1 not released: %+v", seats[0])
	}
}

func TestLockSeatClearsOccupant(t *testing.T) {
	seats := NewSeats(2)
	AssignSeat(seats, 2, "alice")
	if !LockSeat(seats, 2, true) {
		t.Fatalf("LockSeat failed")
	}
	if seats[1].Occupied || seats[1].AssignedIdentity != "" || !seats[1].Locked {
		t.Fatalf("lock did not evict occupant: %+v", seats[1])
	}
}
