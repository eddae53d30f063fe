package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout:
//
//	{prefix}/{asset_id}/features          inbound feature snapshots
//	{prefix}/{asset_id}/alerts/resolved   outbound resolved-alert events

// AssetIDFromTopic extracts the asset segment from a topic matching pattern,
// where the asset segment is the pattern's single-level wildcard.
func AssetIDFromTopic(pattern, topic string) (string, error) {
	idx, err := assetSegment(pattern)
	if err != nil {
		return "", err
	}
	if !matchTopic(pattern, topic) {
		return "", fmt.Errorf("topic %q does not match %q", topic, pattern)
	}
	return splitTopic(topic)[idx], nil
}

// assetSegment returns the index of the one "+" level in pattern.
func assetSegment(pattern string) (int, error) {
	idx := -1
	for i, part := range splitTopic(pattern) {
		switch part {
		case "+":
			if idx >= 0 {
				return 0, fmt.Errorf("pattern %q has more than one asset wildcard", pattern)
			}
			idx = i
		case "#":
			return 0, fmt.Errorf("pattern %q must not use a multi-level wildcard", pattern)
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("pattern %q has no asset wildcard", pattern)
	}
	return idx, nil
}

func ResolvedAlertTopic(prefix, assetID string) string {
	return fmt.Sprintf("%s/%s/alerts/resolved", strings.TrimSuffix(prefix, "/"), assetID)
}
