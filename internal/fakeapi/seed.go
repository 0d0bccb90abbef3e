package fakeapi

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"

	"github.com/kalambet/leadctl/internal/leadapi"
)

var (
	firstNames = []string{"JAMES", "MARY", "ROBERT", "PATRICIA", "JOHN", "LINDA", "MICHAEL", "BARBARA", "DAVID", "SUSAN"}
	lastNames  = []string{"FENNER", "SMITH", "JOHNSON", "WILLIAMS", "BROWN", "JONES", "GARCIA", "MILLER", "DAVIS", "WILSON"}
	streets    = []string{"MAIN ST", "OAK AVE", "PINE RD", "MAPLE DR", "CEDAR LN", "ELM ST", "GROVE AVE", "HULL ST"}
)

func areaKey(state, city string) string {
	return strings.ToUpper(strings.TrimSpace(state)) + "|" + strings.ToUpper(strings.TrimSpace(city))
}

// areaLeads returns the lead ids of an area, generating them on first use.
// Generation is deterministic per area. Must be called with mu held.
func (s *Server) areaLeads(state, city string) []string {
	key := areaKey(state, city)
	if ids, ok := s.areas[key]; ok {
		return ids
	}

	h := fnv.New64a()
	h.Write([]byte(key))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	state = strings.ToUpper(strings.TrimSpace(state))
	city = strings.ToUpper(strings.TrimSpace(city))
	ids := make([]string, 0, s.opts.LeadsPerArea)
	for i := range s.opts.LeadsPerArea {
		id := fmt.Sprintf("P%08X", uint32(seed)+uint32(i))
		l := &leadapi.Lead{
			RadarID:        id,
			Address:        fmt.Sprintf("%d %s, %s, %s", 100+rng.IntN(9800), streets[rng.IntN(len(streets))], city, state),
			City:           city,
			State:          state,
			OwnerName:      firstNames[rng.IntN(len(firstNames))] + " " + lastNames[rng.IntN(len(lastNames))],
			EstimatedValue: float64(150+rng.IntN(450)) * 1000,
			Beds:           2 + rng.IntN(4),
			Baths:          float64(2+rng.IntN(5)) / 2,
			SqFt:           900 + rng.IntN(2600),
			YearBuilt:      1940 + rng.IntN(80),
		}
		l.EquityValue = l.EstimatedValue * float64(40+rng.IntN(60)) / 100
		s.leads[id] = l
		ids = append(ids, id)
	}
	s.areas[key] = ids
	return ids
}

// enrichContact fills the contact fields a purchase reveals. Every fifth
// lead has no phone on record.
func enrichContact(l *leadapi.Lead, index int) {
	l.IsPurchased = true
	if l.PhoneNumbers != nil {
		return
	}
	if index%5 == 4 {
		l.PhoneNumbers = []string{}
	} else {
		l.PhoneNumbers = []string{fmt.Sprintf("804-555-%04d", 100+index)}
	}
	first := strings.ToLower(strings.Fields(l.OwnerName)[0])
	l.Emails = []string{fmt.Sprintf("%s.%s@example.com", first, strings.ToLower(l.RadarID))}
}

func preview(l *leadapi.Lead) leadapi.LeadPreview {
	return leadapi.LeadPreview{ID: l.RadarID, Address: l.Address, City: l.City, State: l.State}
}
