package stats

// Tier is an XP rank.
type Tier struct {
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
	Color string `json:"color"`
	MinXP int    `json:"min_xp"`
}

// Tiers lists ranks from highest to lowest.
var Tiers = []Tier{
	{Name: "MASTER", Emoji: "👑", Color: "#FF6B6B", MinXP: 5000},
	{Name: "DIAMOND", Emoji: "💎", Color: "#A78BFA", MinXP: 2000},
	{Name: "GOLD", Emoji: "🏆", Color: "#FBBF24", MinXP: 800},
	{Name: "SILVER", Emoji: "🥈", Color: "#94A3B8", MinXP: 300},
	{Name: "BRONZE", Emoji: "🥉", Color: "#CD7F32", MinXP: 0},
}

// TierFor returns the rank reached with xp points.
func TierFor(xp int) Tier {
	for _, t := range Tiers {
		if xp >= t.MinXP {
			return t
		}
	}
	return Tiers[len(Tiers)-1]
}

// NextTier returns the next rank and the points missing, or ok=false at the top.
func NextTier(xp int) (next Tier, missing int, ok bool) {
	for i := len(Tiers) - 1; i >= 0; i-- {
		if Tiers[i].MinXP > xp {
			return Tiers[i], Tiers[i].MinXP - xp, true
		}
	}
	return Tier{}, 0, false
}
