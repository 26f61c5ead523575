package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// Definition rows keep their structured parts as JSON documents so operators
// can edit them with plain SQL. The codec below is shared by both drivers.

func decodeIndicatorDef(d model.IndicatorDefinition, risk string, variablesJSON, windowJSON, aggJSON, normJSON []byte) (model.IndicatorDefinition, error) {
	parsed, err := model.ParseRisk(risk)
	if err != nil {
		return d, err
	}
	d.Risk = parsed

	if len(variablesJSON) > 0 {
		if err := json.Unmarshal(variablesJSON, &d.Variables); err != nil {
			return d, eris.Wrap(err, "store: unmarshal variables")
		}
	}
	if len(windowJSON) > 0 {
		if err := json.Unmarshal(windowJSON, &d.Window); err != nil {
			return d, eris.Wrap(err, "store: unmarshal window_spec")
		}
	}
	var agg map[string]string
	if len(aggJSON) > 0 {
		if err := json.Unmarshal(aggJSON, &agg); err != nil {
			return d, eris.Wrap(err, "store: unmarshal aggregation")
		}
	}
	d.Aggregation = model.AggregationTermsFromMap(agg)
	if len(normJSON) > 0 {
		if err := json.Unmarshal(normJSON, &d.Normalization); err != nil {
			return d, eris.Wrap(err, "store: unmarshal normalization")
		}
	}
	method, _ := model.ParseNormalization(string(d.Normalization.Method))
	d.Normalization.Method = method
	return d, nil
}

func decodeScoreDef(d model.ScoreDefinition, risk string, weightsJSON, mappingJSON []byte) (model.ScoreDefinition, error) {
	parsed, err := model.ParseRisk(risk)
	if err != nil {
		return d, err
	}
	d.Risk = parsed

	if len(weightsJSON) > 0 {
		if err := json.Unmarshal(weightsJSON, &d.Weights); err != nil {
			return d, eris.Wrap(err, "store: unmarshal indicator_weights")
		}
	}
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &d.Mapping); err != nil {
			return d, eris.Wrap(err, "store: unmarshal mapping")
		}
	}
	return d, nil
}

func encodeIndicatorDef(d model.IndicatorDefinition) (variables, window, agg, norm []byte, err error) {
	if variables, err = json.Marshal(d.Variables); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal variables")
	}
	if window, err = json.Marshal(d.Window); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal window_spec")
	}
	aggMap := d.AggregationMap()
	if aggMap == nil {
		aggMap = map[string]string{}
	}
	if agg, err = json.Marshal(aggMap); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal aggregation")
	}
	if norm, err = json.Marshal(d.Normalization); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal normalization")
	}
	return variables, window, agg, norm, nil
}
