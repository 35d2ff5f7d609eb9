package generic

// =============================================================================
// BALANCE - Projection of an entitlement and its movements
// =============================================================================

// Balance is the read model for one (staff, leave-year). Remaining is a
// method, not a field, so it can never drift from its inputs.
type Balance struct {
	EntityID    EntityID
	LeaveYear   LeaveYear
	Annual      Amount
	CarriedOver Amount
	Approved    Amount
	Pending     Amount
}

// Entitlement is annual + carried over.
func (b Balance) Entitlement() Amount {
	return b.Annual.Add(b.CarriedOver)
}

// Remaining = annual + carried over - approved - pending.
func (b Balance) Remaining() Amount {
	return b.Entitlement().Sub(b.Approved).Sub(b.Pending)
}

// ReservationState is the resolved state of one reservation after replay.
type ReservationState string

const (
	ReservationPending   ReservationState = "pending"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// Reservation is a replayed reservation.
type Reservation struct {
	ID     ReservationID
	Key    LedgerKey
	Amount Amount
	State  ReservationState
}

// Projection is the full replay result: balance plus reservation states.
type Projection struct {
	Balance      Balance
	Reservations map[ReservationID]*Reservation
}

// Project replays movements on top of an entitlement. Movements must all
// belong to the entitlement's key.
//
//	pending      +pending               reservation -> pending
//	consumption  -pending (if reserved) +approved    reservation -> committed
//	release      -pending               reservation -> released
//	reversal     -approved
func Project(ent Entitlement, txs []Transaction) Projection {
	unit := ent.Annual.Unit
	b := Balance{
		EntityID:    ent.EntityID,
		LeaveYear:   ent.LeaveYear,
		Annual:      ent.Annual,
		CarriedOver: ent.CarriedOver,
		Approved:    NewAmount(0, unit),
		Pending:     NewAmount(0, unit),
	}
	if b.CarriedOver.Unit == "" {
		b.CarriedOver = NewAmount(0, unit)
	}
	reservations := make(map[ReservationID]*Reservation)

	for _, tx := range txs {
		switch tx.Type {
		case TxPending:
			b.Pending = b.Pending.Add(tx.Amount)
			reservations[tx.ReservationID] = &Reservation{
				ID:     tx.ReservationID,
				Key:    tx.Key(),
				Amount: tx.Amount,
				State:  ReservationPending,
			}
		case TxConsumption:
			if r, ok := reservations[tx.ReservationID]; ok && tx.ReservationID != "" && r.State == ReservationPending {
				b.Pending = b.Pending.Sub(r.Amount)
				r.State = ReservationCommitted
			}
			b.Approved = b.Approved.Add(tx.Amount)
		case TxRelease:
			if r, ok := reservations[tx.ReservationID]; ok && r.State == ReservationPending {
				b.Pending = b.Pending.Sub(r.Amount)
				r.State = ReservationReleased
			}
		case TxReversal:
			b.Approved = b.Approved.Sub(tx.Amount)
		}
	}

	return Projection{Balance: b, Reservations: reservations}
}
