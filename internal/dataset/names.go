package dataset

// Display names for the parameters the analysis reads directly.
const (
	Temperature      = "Temperature_2m_C"
	TemperatureMax   = "Temperature_Max_C"
	TemperatureMin   = "Temperature_Min_C"
	Humidity         = "Relative_Humidity_%"
	Precipitation    = "Precipitation_mm"
	WindSpeed        = "Wind_Speed_m/s"
	SurfacePressure  = "Surface_Pressure_kPa"
	SolarRadiation   = "Solar_Radiation_kWh/m2"
	WindDirection    = "Wind_Direction_deg"
	TemperatureRange = "T2M_RANGE"
)

var displayNames = map[string]string{
	"T2M":               Temperature,
	"T2M_MAX":           TemperatureMax,
	"T2M_MIN":           TemperatureMin,
	"RH2M":              Humidity,
	"PRECTOTCORR":       Precipitation,
	"WS2M":              WindSpeed,
	"PS":                SurfacePressure,
	"ALLSKY_SFC_SW_DWN": SolarRadiation,
	"WD2M":              WindDirection,
}

// DisplayName maps a POWER parameter code to its column name. Codes without
// a mapping, and names that are already display names, come back unchanged.
func DisplayName(code string) string {
	if name, ok := displayNames[code]; ok {
		return name
	}
	return code
}

var (
	defaultDaily = []string{"T2M", "T2M_MAX", "T2M_MIN", "RH2M", "PRECTOTCORR", "WS2M", "PS", "ALLSKY_SFC_SW_DWN"}

	defaultHourly = []string{"T2M", "RH2M", "WS2M", "PRECTOTCORR", "ALLSKY_SFC_SW_DWN"}

	lightning = []string{
		"T2M", "T2M_MAX", "T2M_MIN", "T2MDEW", "RH2M", "PRECTOTCORR", "WS2M",
		"WS10M", "WD2M", "PS", "ALLSKY_SFC_SW_DWN", "ALLSKY_SFC_LW_DWN",
		"T2M_RANGE", "QV2M",
	}
)

// DefaultDailyParameters is the parameter set requested when none is given.
func DefaultDailyParameters() []string { return append([]string(nil), defaultDaily...) }

// DefaultHourlyParameters is the default set for the hourly endpoint.
func DefaultHourlyParameters() []string { return append([]string(nil), defaultHourly...) }

// LightningParameters is the extended set used for district-wide extraction.
func LightningParameters() []string { return append([]string(nil), lightning...) }

// ParameterSet resolves a named set from configuration.
func ParameterSet(name string) ([]string, bool) {
	switch name {
	case "", "default":
		return DefaultDailyParameters(), true
	case "lightning":
		return LightningParameters(), true
	case "hourly":
		return DefaultHourlyParameters(), true
	}
	return nil, false
}
