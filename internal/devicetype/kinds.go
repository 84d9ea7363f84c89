package devicetype

import (
	"github.com/nerrad567/fora-knx-bridge/internal/bridges/knx"
	"github.com/nerrad567/fora-knx-bridge/internal/catalog"
)

var binarySwitch = &Kind{
	Type: BinarySwitch,
	Descriptor: Descriptor{
		Name:        "Binary switch",
		Description: "This is typical binary switch with optional status and control. All parameters are KNX group addresses",
		Fields: []Field{
			{Name: "power_control", Kind: FieldString, Optional: true},
			{Name: "power_status", Kind: FieldArray, Optional: true},
		},
	},
	Datapoints: []DatapointSpec{powerSpec()},
}

var dimmableLight = &Kind{
	Type: DimmableLight,
	Descriptor: Descriptor{
		Name:        "Dimmable light",
		Description: "This is % dimmable light with ON/OFF status and control. All parameters are KNX group addresses",
		Fields: []Field{
			{Name: "power_control", Kind: FieldString, Optional: true},
			{Name: "power_status", Kind: FieldArray, Optional: true},
			{Name: "brightness_control", Kind: FieldString, Optional: true},
			{Name: "brightness_status", Kind: FieldString, Optional: true},
		},
	},
	Datapoints: []DatapointSpec{
		powerSpec(),
		{
			Name:         "brightness",
			ValueType:    catalog.ValueNumber,
			Unit:         "%",
			Min:          float(0),
			Max:          float(100),
			Tag:          knx.TagPercent,
			StatusField:  "brightness_status",
			ControlField: "brightness_control",
		},
	},
}

var roomController1 = &Kind{
	Type: RoomController1,
	Descriptor: Descriptor{
		Name:        "Room controller (% heat, % cool)",
		Description: "Compatible with Siemens UP254 in 0-100% mode",
		Fields: []Field{
			{Name: "temperature", Kind: FieldString},
			{Name: "temperatureSetpoint", Kind: FieldString},
			{Name: "comfortMode", Kind: FieldString, Optional: true},
			{Name: "heat", Kind: FieldString, Optional: true},
			{Name: "cool", Kind: FieldString, Optional: true},
		},
	},
	Datapoints: []DatapointSpec{
		{
			Name:        "temperature",
			ValueType:   catalog.ValueNumber,
			Unit:        "°C",
			Tag:         knx.TagTemperature,
			Format:      FormatFixed2,
			Capability:  Fixed,
			StatusField: "temperature",
			Statusable:  true,
		},
		{
			Name:         "temperatureSetpoint",
			ValueType:    catalog.ValueNumber,
			Unit:         "°C",
			Min:          float(5),
			Max:          float(35),
			Step:         float(0.1),
			Tag:          knx.TagTemperature,
			Format:       FormatFixed2,
			Capability:   Fixed,
			StatusField:  "temperatureSetpoint",
			ControlField: "temperatureSetpoint",
			Statusable:   true,
			Controllable: true,
		},
		{
			Name:         "comfortMode",
			ValueType:    catalog.ValueBoolean,
			Unit:         "Comf|Eco",
			Tag:          knx.TagSwitch,
			Capability:   Fixed,
			StatusField:  "comfortMode",
			ControlField: "comfortMode",
			Statusable:   true,
			Controllable: true,
		},
		{
			Name:        "heat",
			ValueType:   catalog.ValueNumber,
			Unit:        "%",
			Tag:         knx.TagPercent,
			Capability:  Fixed,
			StatusField: "heat",
			Statusable:  true,
		},
		{
			Name:        "cool",
			ValueType:   catalog.ValueNumber,
			Unit:        "%",
			Tag:         knx.TagPercent,
			Capability:  Fixed,
			StatusField: "cool",
			Statusable:  true,
		},
	},
}

func powerSpec() DatapointSpec {
	return DatapointSpec{
		Name:         "power",
		ValueType:    catalog.ValueBoolean,
		Unit:         "ON|OFF",
		Tag:          knx.TagSwitch,
		StatusField:  "power_status",
		ControlField: "power_control",
		Statusable:   true,
		Controllable: true,
	}
}
