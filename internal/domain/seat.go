package domain

// NoSeat marks the absence of a seat binding.
const NoSeat = -1

// Seat is a numbered, lockable stage slot. A locked seat may never be
// occupied or assigned; Occupied holds exactly when AssignedIdentity is set.
type Seat struct {
	ID               int    `json:"id"`
	Occupied         bool   `json:"occupied"`
	Locked           bool   `json:"locked"`
	AssignedIdentity string `json:"assigned_identity,omitempty"`
}

// NewSeats builds n empty seats with 1-based ids.
func NewSeats(n int) []Seat {
	if n <= 0 {
		return nil
	}
	seats := make([]Seat, n)
	for i := range seats {
		seats[i].ID = i + 1
	}
	return seats
}

func seatIndex(seats []Seat, id int) int {
	for i := range seats {
		if seats[i].ID == id {
			return i
		}
	}
	return -1
}

// FindFreeSeat returns the id of the first seat, by ascending id, that is
// neither occupied nor locked.
func FindFreeSeat(seats []Seat) (int, bool) {
	best := 0
	for i := range seats {
		if seats[i].Occupied || seats[i].Locked {
			continue
		}
		if best == 0 || seats[i].ID < best {
			best = seats[i].ID
		}
	}
	return best, best != 0
}

// AssignSeat seats identity on seatID. It fails when the seat is missing,
// occupied or locked.
func AssignSeat(seats []Seat, seatID int, identity string) bool {
	i := seatIndex(seats, seatID)
	if i < 0 || seats[i].Occupied || seats[i].Locked {
		return false
	}
	seats[i].Occupied = true
	seats[i].AssignedIdentity = identity
	return true
}

// ReleaseSeat clears occupancy of seatID. Releasing a free or missing seat
// is a no-op.
func ReleaseSeat(seats []Seat, seatID int) {
	i := seatIndex(seats, seatID)
	if i < 0 {
		return
	}
	seats[i].Occupied = false
	seats[i].AssignedIdentity = ""
}

// LockSeat sets the lock state of seatID. Locking forcibly clears occupancy;
// a lock always wins over an existing occupant.
func LockSeat(seats []Seat, seatID int, locked bool) bool {
	i := seatIndex(seats, seatID)
	if i < 0 {
		return false
	}
	seats[i].Locked = locked
	if locked {
		seats[i].Occupied = false
		seats[i].AssignedIdentity = ""
	}
	return true
}
