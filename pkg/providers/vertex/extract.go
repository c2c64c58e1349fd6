package vertex

import (
	"regexp"

	"cloud.google.com/go/aiplatform/apiv1beta1/aiplatformpb"
)

// Feature positions in the catalog feature view. The view is materialized
// from the product catalog table with the product ID at index 8 and the GCS
// image URI at index 9.
const (
	productIDFeatureIndex = 8
	gcsURIFeatureIndex    = 9
)

// Product ID patterns, most specific first. The feature value may be a bare
// ID, a quoted ID, a proto debug string, or an image filename.
var productIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"(\d+)"`),
	regexp.MustCompile(`string_value: "(\d+)"`),
	regexp.MustCompile(`(\d+)\.jpg`),
	regexp.MustCompile(`(\d+)`),
}

// ExtractProductID pulls a numeric product ID out of a feature value string.
// Returns "" when no pattern matches.
func ExtractProductID(s string) string {
	for _, pattern := range productIDPatterns {
		if m := pattern.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}

// featureString returns the string form of the feature at index i. Falls back
// to the proto's string rendering for non-string feature values so the
// regex extraction still has something to work with.
func featureString(features []*aiplatformpb.FetchFeatureValuesResponse_FeatureNameValuePairList_FeatureNameValuePair, i int) string {
	if i < 0 || i >= len(features) {
		return ""
	}
	value := features[i].GetValue()
	if value == nil {
		return ""
	}
	if s := value.GetStringValue(); s != "" {
		return s
	}
	return value.String()
}
