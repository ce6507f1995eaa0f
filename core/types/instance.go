package types

// InstanceRef names a concrete occurrence of a domain type — e.g. "the
// points of this spiral". Both fields are opaque branded strings; the
// engine never parses their contents.
type InstanceRef struct {
	DomainTypeID string
	InstanceID   string
}

// Zero reports whether this is the unset InstanceRef.
func (r InstanceRef) Zero() bool {
	return r.DomainTypeID == "" && r.InstanceID == ""
}

func (r InstanceRef) Equal(o InstanceRef) bool {
	return r.DomainTypeID == o.DomainTypeID && r.InstanceID == o.InstanceID
}

func (r InstanceRef) String() string {
	return r.DomainTypeID + "#" + r.InstanceID
}
