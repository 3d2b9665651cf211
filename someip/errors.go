package someip

import "fmt"

// NotDiscoveredError is returned by Client.Call and the Subscribe methods
// when the target service instance has not yet been found via Service
// Discovery, and by Runtime.Notify when the service is not offered locally.
type NotDiscoveredError struct {
	ServiceID, InstanceID uint16
}

func (e *NotDiscoveredError) Error() string {
	return fmt.Sprintf("someip: service 0x%04X/%d not yet discovered", e.ServiceID, e.InstanceID)
}

// UnknownAliasError is returned by CreateClient when the alias isn't
// configured under Config.Clients.
type UnknownAliasError struct {
	Alias string
}

func (e *UnknownAliasError) Error() string {
	return fmt.Sprintf("someip: no client alias %q configured", e.Alias)
}
