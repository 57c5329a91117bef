package weather

import (
	"context"
	"fmt"
	"strconv"

	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

// LocationSource resolves the fleet's single reference location
type LocationSource interface {
	Location(ctx context.Context) (latitude, longitude float64, err error)
}

// StaticLocation is a fixed coordinate from configuration
type StaticLocation struct {
	Latitude  float64
	Longitude float64
}

// ParseStaticLocation parses decimal degree strings
func ParseStaticLocation(latitude, longitude string) (*StaticLocation, error) {
	lat, err := strconv.ParseFloat(latitude, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("invalid latitude %q", latitude)
	}
	lon, err := strconv.ParseFloat(longitude, 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("invalid longitude %q", longitude)
	}
	return &StaticLocation{Latitude: lat, Longitude: lon}, nil
}

func (s *StaticLocation) Location(context.Context) (float64, float64, error) {
	return s.Latitude, s.Longitude, nil
}

// GatewayLocator looks up where a gateway is installed
type GatewayLocator interface {
	GetGatewayLocation(ctx context.Context, gatewayID string) (*rbtmodels.GatewayLocation, error)
}

// GatewayLocation uses the position the network server reports for a gateway
type GatewayLocation struct {
	locator   GatewayLocator
	gatewayID string
}

func NewGatewayLocation(locator GatewayLocator, gatewayID string) *GatewayLocation {
	return &GatewayLocation{locator: locator, gatewayID: gatewayID}
}

func (g *GatewayLocation) Location(ctx context.Context) (float64, float64, error) {
	location, err := g.locator.GetGatewayLocation(ctx, g.gatewayID)
	if err != nil {
		return 0, 0, err
	}
	return location.Latitude, location.Longitude, nil
}
