package capability

// Ability namespaces understood by the composer. Devices advertise a
// subset of these through Appliance.System.Ability; anything outside
// the set is ignored.
const (
	NSSystemAll     = "Appliance.System.All"
	NSSystemAbility = "Appliance.System.Ability"
	NSSystemOnline  = "Appliance.System.Online"
	NSSystemRuntime = "Appliance.System.Runtime"
	NSSystemDNDMode = "Appliance.System.DNDMode"

	NSControlToggle       = "Appliance.Control.Toggle"
	NSControlToggleX      = "Appliance.Control.ToggleX"
	NSControlLight        = "Appliance.Control.Light"
	NSControlElectricity  = "Appliance.Control.Electricity"
	NSControlConsumption  = "Appliance.Control.Consumption"
	NSControlConsumptionX = "Appliance.Control.ConsumptionX"
	NSControlSpray        = "Appliance.Control.Spray"
	NSThermostatMode      = "Appliance.Control.Thermostat.Mode"
	NSDiffuserSpray       = "Appliance.Control.Diffuser.Spray"
	NSDiffuserLight       = "Appliance.Control.Diffuser.Light"
	NSControlBind         = "Appliance.Control.Bind"
	NSControlUnbind       = "Appliance.Control.Unbind"

	NSGarageDoorState = "Appliance.GarageDoor.State"

	NSRollerShutterState    = "Appliance.RollerShutter.State"
	NSRollerShutterPosition = "Appliance.RollerShutter.Position"
	NSRollerShutterConfig   = "Appliance.RollerShutter.Config"

	NSHubOnline        = "Appliance.Hub.Online"
	NSHubToggleX       = "Appliance.Hub.ToggleX"
	NSHubBattery       = "Appliance.Hub.Battery"
	NSHubMts100All     = "Appliance.Hub.Mts100.All"
	NSHubMts100Mode    = "Appliance.Hub.Mts100.Mode"
	NSHubMts100Temp    = "Appliance.Hub.Mts100.Temperature"
	NSHubSensorAll     = "Appliance.Hub.Sensor.All"
	NSHubSensorAlert   = "Appliance.Hub.Sensor.Alert"
	NSHubSensorTempHum = "Appliance.Hub.Sensor.TempHum"
	NSHubSubdeviceList = "Appliance.Hub.SubdeviceList"
)
