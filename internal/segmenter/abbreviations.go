package segmenter

// defaultAbbreviations are lowercase words that, followed by a period, do not
// end a sentence. Dotted forms keep their inner periods ("e.g", "u.s").
var defaultAbbreviations = []string{
	// titles and honorifics
	"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st", "mt", "rev", "gen",
	"col", "lt", "sgt", "capt", "gov", "sen", "rep", "hon", "pres", "fr",

	// units
	"ft", "lb", "lbs", "oz", "kg", "km", "cm", "mm", "mg", "ml", "hr", "hrs",
	"min", "mins", "sec", "secs", "sq", "yd", "yds", "mi", "mph", "vol",
	"pt", "pts", "approx",

	// months
	"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct",
	"nov", "dec",

	// weekdays
	"mon", "tue", "tues", "wed", "thu", "thur", "thurs", "fri", "sat", "sun",

	// latin and common
	"etc", "e.g", "i.e", "vs", "viz", "cf", "al", "ca", "inc", "ltd", "co",
	"corp", "dept", "est", "fig", "u.s", "a.m", "p.m",
}
