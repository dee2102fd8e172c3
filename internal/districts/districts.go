// Package districts holds the static coordinate tables for Bangladesh.
package districts

import (
	"fmt"
	"strings"
)

// Location is a named point with the administrative division it belongs to.
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
	Division  string
}

// String renders the location the way it appears in progress output.
func (l Location) String() string {
	return fmt.Sprintf("%s (%s Division)", l.Name, l.Division)
}

// Ordered by division, then by the order districts are listed in that division.
var all = [...]Location{
	// Dhaka Division
	{"Dhaka", 23.8103, 90.4125, "Dhaka"},
	{"Faridpur", 23.6070, 89.8429, "Dhaka"},
	{"Gazipur", 24.0022, 90.4264, "Dhaka"},
	{"Gopalganj", 23.0050, 89.8266, "Dhaka"},
	{"Jamalpur", 24.9375, 89.9372, "Dhaka"},
	{"Kishoreganj", 24.4260, 90.7760, "Dhaka"},
	{"Madaripur", 23.1641, 90.1897, "Dhaka"},
	{"Manikganj", 23.8617, 90.0003, "Dhaka"},
	{"Munshiganj", 23.5422, 90.5305, "Dhaka"},
	{"Mymensingh", 24.7471, 90.4203, "Mymensingh"},
	{"Narayanganj", 23.6238, 90.5000, "Dhaka"},
	{"Narsingdi", 23.9322, 90.7151, "Dhaka"},
	{"Netrokona", 24.8103, 90.7270, "Mymensingh"},
	{"Rajbari", 23.7574, 89.6444, "Dhaka"},
	{"Shariatpur", 23.2423, 90.4348, "Dhaka"},
	{"Sherpur", 25.0204, 90.0152, "Mymensingh"},
	{"Tangail", 24.2513, 89.9167, "Dhaka"},

	// Chittagong Division
	{"Bandarban", 22.1953, 92.2183, "Chittagong"},
	{"Brahmanbaria", 23.9570, 91.1119, "Chittagong"},
	{"Chandpur", 23.2332, 90.6712, "Chittagong"},
	{"Chittagong", 22.3569, 91.7832, "Chittagong"},
	{"Comilla", 23.4607, 91.1809, "Chittagong"},
	{"Cox's Bazar", 21.4272, 92.0058, "Chittagong"},
	{"Feni", 23.0159, 91.3976, "Chittagong"},
	{"Khagrachari", 23.1193, 91.9847, "Chittagong"},
	{"Lakshmipur", 22.9447, 90.8298, "Chittagong"},
	{"Noakhali", 22.8696, 91.0995, "Chittagong"},
	{"Rangamati", 22.7324, 92.2985, "Chittagong"},

	// Rajshahi Division
	{"Bogra", 24.8465, 89.3770, "Rajshahi"},
	{"Joypurhat", 25.0968, 89.0227, "Rajshahi"},
	{"Naogaon", 24.7936, 88.9318, "Rajshahi"},
	{"Natore", 24.4206, 89.0042, "Rajshahi"},
	{"Nawabganj", 24.5965, 88.2775, "Rajshahi"},
	{"Pabna", 24.0064, 89.2372, "Rajshahi"},
	{"Rajshahi", 24.3745, 88.6042, "Rajshahi"},
	{"Sirajganj", 24.4533, 89.7006, "Rajshahi"},

	// Khulna Division
	{"Bagerhat", 22.6602, 89.7895, "Khulna"},
	{"Chuadanga", 23.6401, 88.8410, "Khulna"},
	{"Jessore", 23.1634, 89.2182, "Khulna"},
	{"Jhenaidah", 23.5448, 89.1539, "Khulna"},
	{"Khulna", 22.8456, 89.5403, "Khulna"},
	{"Kushtia", 23.9011, 89.1099, "Khulna"},
	{"Magura", 23.4855, 89.4198, "Khulna"},
	{"Meherpur", 23.7622, 88.6318, "Khulna"},
	{"Narail", 23.1163, 89.5840, "Khulna"},
	{"Satkhira", 22.7185, 89.0705, "Khulna"},

	// Barisal Division
	{"Barguna", 22.1590, 90.1119, "Barisal"},
	{"Barisal", 22.7010, 90.3535, "Barisal"},
	{"Bhola", 22.6859, 90.6482, "Barisal"},
	{"Jhalokati", 22.6406, 90.1987, "Barisal"},
	{"Patuakhali", 22.3596, 90.3298, "Barisal"},
	{"Pirojpur", 22.5841, 89.9720, "Barisal"},

	// Sylhet Division
	{"Habiganj", 24.3745, 91.4156, "Sylhet"},
	{"Moulvibazar", 24.4820, 91.7313, "Sylhet"},
	{"Sunamganj", 25.0657, 91.3950, "Sylhet"},
	{"Sylhet", 24.8949, 91.8687, "Sylhet"},

	// Rangpur Division
	{"Dinajpur", 25.6217, 88.6354, "Rangpur"},
	{"Gaibandha", 25.3297, 89.5430, "Rangpur"},
	{"Kurigram", 25.8074, 89.6361, "Rangpur"},
	{"Lalmonirhat", 25.9923, 89.2847, "Rangpur"},
	{"Nilphamari", 25.9317, 88.8560, "Rangpur"},
	{"Panchagarh", 26.3411, 88.5541, "Rangpur"},
	{"Rangpur", 25.7439, 89.2752, "Rangpur"},
	{"Thakurgaon", 26.0336, 88.4616, "Rangpur"},
}

var majorCities = [...]string{"Dhaka", "Chittagong", "Sylhet", "Rajshahi", "Khulna"}

var byName = func() map[string]Location {
	m := make(map[string]Location, len(all))
	for _, loc := range all {
		m[strings.ToLower(loc.Name)] = loc
	}
	return m
}()

// All returns the 64 districts in declaration order.
func All() []Location {
	out := make([]Location, len(all))
	copy(out, all[:])
	return out
}

// Major returns the five major cities used for quick comparisons.
func Major() []Location {
	out := make([]Location, 0, len(majorCities))
	for _, name := range majorCities {
		out = append(out, byName[strings.ToLower(name)])
	}
	return out
}

// Lookup finds a district by name, ignoring case.
func Lookup(name string) (Location, bool) {
	loc, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return loc, ok
}

// InDivision filters locs to those in the named division, keeping order.
func InDivision(locs []Location, division string) []Location {
	var out []Location
	for _, loc := range locs {
		if strings.EqualFold(loc.Division, division) {
			out = append(out, loc)
		}
	}
	return out
}

// Divisions returns the distinct division names in first-seen order.
func Divisions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, loc := range all {
		if !seen[loc.Division] {
			seen[loc.Division] = true
			out = append(out, loc.Division)
		}
	}
	return out
}
