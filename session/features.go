package session

import (
	"strings"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/localauth"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/reservation"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
)

// Profiles is a set of OCPP 1.6 feature profiles.
type Profiles uint

const (
	ProfileCore Profiles = 1 << iota
	ProfileFirmwareManagement
	ProfileSmartCharging
	ProfileReservation
	ProfileRemoteTrigger
	ProfileLocalAuthListManagement
)

var profileNames = []struct {
	profile Profiles
	name    string
}{
	{ProfileCore, core.ProfileName},
	{ProfileFirmwareManagement, firmware.ProfileName},
	{ProfileSmartCharging, smartcharging.ProfileName},
	{ProfileReservation, reservation.ProfileName},
	{ProfileRemoteTrigger, remotetrigger.ProfileName},
	{ProfileLocalAuthListManagement, localauth.ProfileName},
}

func (p Profiles) Has(profile Profiles) bool {
	return p&profile == profile
}

// Names lists the profiles in the set in declaration order.
func (p Profiles) Names() []string {
	var names []string
	for _, pn := range profileNames {
		if p.Has(pn.profile) {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Profiles) String() string {
	return strings.Join(p.Names(), ",")
}

// ParseProfiles reads a SupportedFeatureProfiles value. Names it does not
// know are returned in unknown.
func ParseProfiles(value string) (profiles Profiles, unknown []string) {
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		found := false
		for _, pn := range profileNames {
			if strings.EqualFold(item, pn.name) {
				profiles |= pn.profile
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, item)
		}
	}
	return profiles, unknown
}
