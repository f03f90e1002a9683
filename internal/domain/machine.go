package domain

import "time"

// DefaultOrderValue is the sentinel priority assigned to a machine on first
// registration. Lower values run earlier; 9999 means "last".
const DefaultOrderValue = 9999

// Machine is one agent in the fleet. OrderValue is the coalesced priority
// read across the configured field aliases (order, serial).
type Machine struct {
	MachineID        string     `bson:"machine_id"`
	Hostname         string     `bson:"hostname"`
	OrderValue       int        `bson:"order_value"`
	LastOnlineMinute *time.Time `bson:"last_online_minute,omitempty"`
	LastSeen         time.Time  `bson:"last_seen"`
}

// OnlineAt reports whether the machine heartbeat-reported for the given
// scheduled minute.
func (m *Machine) OnlineAt(minuteUTC time.Time) bool {
	return m.LastOnlineMinute != nil && m.LastOnlineMinute.Equal(minuteUTC)
}
