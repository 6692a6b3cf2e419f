package integration

// ---------------------------------------------------------------------------
// Capability represents an independently syncable data domain
// ---------------------------------------------------------------------------

// Capability represents an independently syncable data domain
type Capability string

const (
	// CapabilityPeople covers person/contact records
	CapabilityPeople Capability = "people"
	// CapabilityGroups covers group rosters
	CapabilityGroups Capability = "groups"
	// CapabilityEvents covers calendar events
	CapabilityEvents Capability = "events"
	// CapabilityContributions covers giving records
	CapabilityContributions Capability = "contributions"
)

// AllCapabilities returns every capability in canonical sync order
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityPeople,
		CapabilityGroups,
		CapabilityEvents,
		CapabilityContributions,
	}
}

// IsValid returns true if the capability is valid
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityPeople, CapabilityGroups, CapabilityEvents, CapabilityContributions:
		return true
	default:
		return false
	}
}

// String returns the string representation of Capability
func (c Capability) String() string {
	return string(c)
}

// ParseCapabilities converts raw capability names, rejecting unknown values.
// Duplicates are removed while keeping first-seen order.
func ParseCapabilities(names []string) ([]Capability, error) {
	seen := make(map[Capability]struct{}, len(names))
	out := make([]Capability, 0, len(names))
	for _, name := range names {
		c := Capability(name)
		if !c.IsValid() {
			return nil, ErrUnsupportedCapability
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Status is the Integration lifecycle state
// ---------------------------------------------------------------------------

// Status is the Integration lifecycle state
type Status string

const (
	// StatusDisconnected indicates the tenant disconnected the provider
	StatusDisconnected Status = "disconnected"
	// StatusConnected indicates credentials were validated and no sync is running
	StatusConnected Status = "connected"
	// StatusSyncing indicates a sync is in flight
	StatusSyncing Status = "syncing"
	// StatusError indicates the last sync failed
	StatusError Status = "error"
)

// IsValid returns true if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusDisconnected, StatusConnected, StatusSyncing, StatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// CanBeginSync returns true if a sync may start from this state
func (s Status) CanBeginSync() bool {
	return s == StatusConnected || s == StatusError
}

// SyncableStatuses returns the states from which a sync may start
func SyncableStatuses() []Status {
	return []Status{StatusConnected, StatusError}
}

// ---------------------------------------------------------------------------
// SyncSchedule controls how often periodic syncs are due
// ---------------------------------------------------------------------------

// SyncSchedule controls how often periodic syncs are due
type SyncSchedule string

const (
	SyncScheduleDaily   SyncSchedule = "daily"
	SyncScheduleWeekly  SyncSchedule = "weekly"
	SyncScheduleMonthly SyncSchedule = "monthly"
	SyncScheduleManual  SyncSchedule = "manual"
)

// IsValid returns true if the schedule is valid
func (s SyncSchedule) IsValid() bool {
	switch s {
	case SyncScheduleDaily, SyncScheduleWeekly, SyncScheduleMonthly, SyncScheduleManual:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncSchedule
func (s SyncSchedule) String() string {
	return string(s)
}
