package commsutil

import "strings"

// SubjectGuestPrefix is the subject prefix guest agents listen on.
const SubjectGuestPrefix = "guest"

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// BuildGuestSubject builds the command subject for a guest host, e.g. guest.db-host-01.
func BuildGuestSubject(host string) string {
	return SubjectGuestPrefix + "." + subjectReplacer.Replace(host)
}

// SubjectStatusChanged is the fleet-wide subject for status change events.
const SubjectStatusChanged = "guest_status.changed"

// BuildStatusChangedSubject builds the per-host status event subject, e.g.
// guest_status.changed.db-host-01.
func BuildStatusChangedSubject(host string) string {
	return SubjectStatusChanged + "." + subjectReplacer.Replace(host)
}
