package analysis

import "strings"

type Activity string

const (
	ActivityXCSkiing      Activity = "xc_skiing"
	ActivityCycling       Activity = "cycling"
	ActivityHiking        Activity = "hiking"
	ActivityInlineSkating Activity = "inline_skating"
	ActivityRunning       Activity = "running"
	ActivitySwimming      Activity = "swimming"
	ActivityOther         Activity = "other"
)

// Strava's numeric activity codes as written into exported GPX <type>.
var stravaActivityCodes = map[string]Activity{
	"1":  ActivityCycling,
	"4":  ActivityHiking,
	"6":  ActivityInlineSkating,
	"7":  ActivityXCSkiing,
	"9":  ActivityRunning,
	"10": ActivityHiking,
	"16": ActivitySwimming,
}

var activityNames = map[string]Activity{
	"xcskiing":           ActivityXCSkiing,
	"nordicski":          ActivityXCSkiing,
	"crosscountryskiing": ActivityXCSkiing,
	"cycling":            ActivityCycling,
	"ride":               ActivityCycling,
	"biking":             ActivityCycling,
	"mountainbikeride":   ActivityCycling,
	"gravelride":         ActivityCycling,
	"ebikeride":          ActivityCycling,
	"hiking":             ActivityHiking,
	"hike":               ActivityHiking,
	"walk":               ActivityHiking,
	"walking":            ActivityHiking,
	"inlineskating":      ActivityInlineSkating,
	"inlineskate":        ActivityInlineSkating,
	"running":            ActivityRunning,
	"run":                ActivityRunning,
	"trailrun":           ActivityRunning,
	"swimming":           ActivitySwimming,
	"swim":               ActivitySwimming,
	"openwaterswim":      ActivitySwimming,
}

// ParseActivity maps an activity label from a recording or a request to a
// known activity. Strava numeric codes, FIT sport names and the names of
// the constants above are understood; anything else is ActivityOther.
func ParseActivity(value string) Activity {
	value = strings.TrimSpace(value)
	if value == "" {
		return ActivityOther
	}
	if a, ok := stravaActivityCodes[value]; ok {
		return a
	}
	if a, ok := activityNames[normalizeActivityType(value)]; ok {
		return a
	}
	return ActivityOther
}

func normalizeActivityType(value string) string {
	normalized := strings.ToLower(value)
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	return normalized
}
