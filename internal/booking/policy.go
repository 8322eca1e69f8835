package booking

// BlockingPolicy decides which reservation statuses occupy a slot. The
// availability filter reads ReadBlocking and the booking path reads
// WriteBlocking, so both checks come from the same value.
type BlockingPolicy struct {
	pendingHidesSlot bool
}

func NewBlockingPolicy(pendingHidesSlot bool) BlockingPolicy {
	return BlockingPolicy{pendingHidesSlot: pendingHidesSlot}
}

// WriteBlocking is fixed: any active reservation holds the slot against a
// new booking. It matches the partial unique index on reservations.
func (p BlockingPolicy) WriteBlocking() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusInProgress}
}

// ReadBlocking lists the statuses that hide a slot from availability reads.
// Pending reservations stay visible unless the policy says otherwise.
func (p BlockingPolicy) ReadBlocking() []Status {
	if p.pendingHidesSlot {
		return p.WriteBlocking()
	}
	return []Status{StatusConfirmed, StatusInProgress}
}

func (p BlockingPolicy) BlocksWrite(s Status) bool {
	return containsStatus(p.WriteBlocking(), s)
}

func (p BlockingPolicy) BlocksRead(s Status) bool {
	return containsStatus(p.ReadBlocking(), s)
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
