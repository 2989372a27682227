package poll

import "strings"

// Marker is the reaction emoji standing for one option.
type Marker struct {
	API     string // form used by the reactions API: "1️⃣" or "name:id"
	Display string // form used in message text: "1️⃣" or "<:name:id>"
}

// Markers maps options to their reaction emoji.
type Markers [OptionCount]Marker

var numberEmoji = [10]string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// NewMarkers builds the keycap markers 1..10 plus two custom emoji for 11 and 12,
// each given in "name:id" form.
func NewMarkers(eleven, twelve string) Markers {
	var m Markers
	for i, e := range numberEmoji {
		m[i] = Marker{API: e, Display: e}
	}
	m[10] = customMarker(eleven)
	m[11] = customMarker(twelve)
	return m
}

func customMarker(nameID string) Marker {
	if !strings.Contains(nameID, ":") {
		return Marker{API: nameID, Display: nameID}
	}
	return Marker{API: nameID, Display: "<:" + nameID + ">"}
}

// Index returns the 0-based option for an API-form emoji, or -1.
func (m Markers) Index(api string) int {
	for i, mk := range m {
		if mk.API == api {
			return i
		}
	}
	return -1
}
