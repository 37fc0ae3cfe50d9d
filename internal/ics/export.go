// Package ics renders sessions as an iCalendar feed so a group's plans can be
// subscribed to from ordinary calendar apps.
package ics

import (
	"fmt"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "gametonite/internal/log"
	"gametonite/internal/model"
)

const (
	productID = "-//gametonite//sessions//EN"

	// PropertyGame carries the optional game name of a session.
	PropertyGame ical.ComponentProperty = "X-GAMETONITE-GAME"
	// PropertySessionID carries the store-assigned session id.
	PropertySessionID ical.ComponentProperty = "X-GAMETONITE-SESSION-ID"
)

// uidNamespace scopes the name-based UUIDs used as VEVENT UIDs.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://gametonite.invalid/sessions"))

// EventUID returns a stable UID for a session so re-exports update rather
// than duplicate entries in subscribed calendars.
func EventUID(s model.Session) string {
	name := s.ServerID + "/" + strconv.FormatInt(s.SessionID, 10)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@gametonite"
}

// Export serializes sessions into a VCALENDAR named after the group. stamp is
// written as DTSTAMP on every event.
func Export(groupID string, sessions []model.Session, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName(groupID)
	cal.SetXWRCalName(groupID)

	for _, s := range sessions {
		ev := cal.AddEvent(EventUID(s))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(s.StartTime.UTC())
		ev.SetEndAt(s.EndTime.UTC())
		ev.SetSummary(s.Title)
		ev.SetProperty(PropertySessionID, strconv.FormatInt(s.SessionID, 10))
		if s.Game != nil && *s.Game != "" {
			ev.SetProperty(PropertyGame, *s.Game)
			ev.SetDescription(fmt.Sprintf("Playing %s", *s.Game))
		}
		ev.SetOrganizer(s.Owner.Name, ical.WithCN(s.Owner.Name))
		for _, p := range s.Participants {
			ev.AddAttendee(p.Name, ical.WithCN(p.Name))
		}
	}

	appLog.Debug("ics export completed", "group_id", groupID, "event_count", len(sessions))
	return cal.Serialize()
}
