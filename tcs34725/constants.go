package tcs34725

import (
	"fmt"
	"time"
)

const (
	TCS34725_ADDR uint16 = 0x29 ///< Default I2C address

	TCS34725_COMMAND_BIT        byte = 0x80 ///< 1000 0000: every command byte carries bit 7
	TCS34725_COMMAND_AUTO_INC   byte = 0x20 ///< 0010 0000: auto-increment protocol (burst read/write)
	TCS34725_COMMAND_SPECIAL    byte = 0x60 ///< 0110 0000: special function
	TCS34725_SPECIAL_CLEAR_INTR byte = 0x06 ///< Special function: clear channel interrupt clear

	TCS34725_ID_TCS34725 byte = 0x44 ///< Device ID for TCS34721 and TCS34725
	TCS34725_ID_TCS34727 byte = 0x4D ///< Device ID for TCS34723 and TCS34727

	TCS34725_ENABLE_PON    byte = 0x01 ///< Power ON. Activates the internal oscillator.
	TCS34725_ENABLE_AEN    byte = 0x02 ///< RGBC enable. Activates the two-channel ADC.
	TCS34725_ENABLE_WEN    byte = 0x08 ///< Wait enable. Activates the wait feature between integrations.
	TCS34725_ENABLE_AIEN   byte = 0x10 ///< RGBC interrupt enable.
	TCS34725_CONFIG_WLONG  byte = 0x02 ///< Wait long. WTIME is multiplied by 12.
	TCS34725_STATUS_AVALID byte = 0x01 ///< RGBC valid. An integration cycle has completed.
	TCS34725_STATUS_AINT   byte = 0x10 ///< RGBC clear channel interrupt asserted.
)

const (
	TCS34725_CYCLE_MS       float64 = 2.4 ///< Duration of one integration/wait cycle
	TCS34725_LONG_WAIT_MULT float64 = 12  ///< WLONG multiplier

	TCS34725_MAX_CYCLES = 256 ///< ATIME/WTIME of 0x00

	TCS34725_POWER_ON_DELAY = 3 * time.Millisecond ///< Oscillator warm-up after PON
)

// TCS34725 Register map
const (
	TCS34725_REGISTER_ENABLE  byte = 0x00 // Enables states and interrupts
	TCS34725_REGISTER_ATIME   byte = 0x01 // RGBC integration time
	TCS34725_REGISTER_WTIME   byte = 0x03 // Wait time
	TCS34725_REGISTER_AILTL   byte = 0x04 // Clear interrupt low threshold, low byte
	TCS34725_REGISTER_AILTH   byte = 0x05 // Clear interrupt low threshold, high byte
	TCS34725_REGISTER_AIHTL   byte = 0x06 // Clear interrupt high threshold, low byte
	TCS34725_REGISTER_AIHTH   byte = 0x07 // Clear interrupt high threshold, high byte
	TCS34725_REGISTER_PERS    byte = 0x0C // Interrupt persistence filter
	TCS34725_REGISTER_CONFIG  byte = 0x0D // Configuration (WLONG)
	TCS34725_REGISTER_CONTROL byte = 0x0F // Gain control
	TCS34725_REGISTER_ID      byte = 0x12 // Device ID
	TCS34725_REGISTER_STATUS  byte = 0x13 // Device status
	TCS34725_REGISTER_CDATAL  byte = 0x14 // Clear data, low byte
	TCS34725_REGISTER_CDATAH  byte = 0x15 // Clear data, high byte
	TCS34725_REGISTER_RDATAL  byte = 0x16 // Red data, low byte
	TCS34725_REGISTER_RDATAH  byte = 0x17 // Red data, high byte
	TCS34725_REGISTER_GDATAL  byte = 0x18 // Green data, low byte
	TCS34725_REGISTER_GDATAH  byte = 0x19 // Green data, high byte
	TCS34725_REGISTER_BDATAL  byte = 0x1A // Blue data, low byte
	TCS34725_REGISTER_BDATAH  byte = 0x1B // Blue data, high byte
)

// Gains is the CONTROL register table; the register code is the index.
var Gains = [...]int{1, 4, 16, 60}

// Constants for the common integration times (ATIME register values)
const (
	TCS34725_INTEGRATIONTIME_2_4MS byte = 0xFF // 2.4ms - 1 cycle - Max Count: 1024
	TCS34725_INTEGRATIONTIME_24MS  byte = 0xF6 // 24ms - 10 cycles - Max Count: 10240
	TCS34725_INTEGRATIONTIME_50MS  byte = 0xEB // 50ms - 20 cycles - Max Count: 20480
	TCS34725_INTEGRATIONTIME_101MS byte = 0xD5 // 101ms - 42 cycles - Max Count: 43008
	TCS34725_INTEGRATIONTIME_154MS byte = 0xC0 // 154ms - 64 cycles - Max Count: 65535
	TCS34725_INTEGRATIONTIME_614MS byte = 0x00 // 614ms - 256 cycles - Max Count: 65535
)

// persistenceCycles maps the PERS register code (index) to the number of
// consecutive out-of-range cycles. Code 0 interrupts on every cycle.
var persistenceCycles = [...]int{0, 1, 2, 3, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60}

func GainToString(gain int) string {
	switch gain {
	case 1:
		return "No gain (1x)"
	case 4:
		return "Low gain (4x)"
	case 16:
		return "Medium gain (16x)"
	case 60:
		return "High gain (60x)"
	default:
		return "Unknown"
	}
}

func IntegrationTimeToString(cycles int) string {
	return fmt.Sprintf("%.1fms (%d cycles)", IntegrationTimeMs(cycles), cycles)
}
