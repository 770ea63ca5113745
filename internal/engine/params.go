package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Params is the complete argument set for one generation call. JSON tags are
// the engine's own parameter names, so marshaling a Params produces the wire
// form the engine consumes. Pointer fields distinguish "not provided" (null)
// from an empty value, matching what the engine expects for file-like inputs.
type Params struct {
	// Identity and base request.
	Task            string  `json:"task"`
	ImageMode       int     `json:"image_mode"`
	Prompt          string  `json:"prompt"`
	AltPrompt       string  `json:"alt_prompt"`
	NegativePrompt  string  `json:"negative_prompt"`
	Resolution      string  `json:"resolution"`
	VideoLength     int     `json:"video_length"`
	DurationSeconds float64 `json:"duration_seconds"`
	PauseSeconds    float64 `json:"pause_seconds"`
	BatchSize       int     `json:"batch_size"`
	Seed            int     `json:"seed"`
	ForceFPS        string  `json:"force_fps"`

	// Sampling and guidance.
	NumInferenceSteps     int     `json:"num_inference_steps"`
	GuidanceScale         float64 `json:"guidance_scale"`
	Guidance2Scale        float64 `json:"guidance2_scale"`
	Guidance3Scale        float64 `json:"guidance3_scale"`
	SwitchThreshold       float64 `json:"switch_threshold"`
	SwitchThreshold2      float64 `json:"switch_threshold2"`
	GuidancePhases        int     `json:"guidance_phases"`
	ModelSwitchPhase      float64 `json:"model_switch_phase"`
	AltGuidanceScale      float64 `json:"alt_guidance_scale"`
	AudioGuidanceScale    float64 `json:"audio_guidance_scale"`
	AudioScale            float64 `json:"audio_scale"`
	FlowShift             float64 `json:"flow_shift"`
	SampleSolver          string  `json:"sample_solver"`
	EmbeddedGuidanceScale float64 `json:"embedded_guidance_scale"`
	RepeatGeneration      int     `json:"repeat_generation"`
	MultiPromptsGenType   string  `json:"multi_prompts_gen_type"`
	MultiImagesGenType    string  `json:"multi_images_gen_type"`

	// Step skipping cache.
	SkipStepsCacheType     string  `json:"skip_steps_cache_type"`
	SkipStepsMultiplier    float64 `json:"skip_steps_multiplier"`
	SkipStepsStartStepPerc float64 `json:"skip_steps_start_step_perc"`

	// LoRA selection.
	ActivatedLoras   []string `json:"activated_loras"`
	LorasMultipliers any      `json:"loras_multipliers"`

	// Image and video conditioning.
	ImagePromptType       string   `json:"image_prompt_type"`
	ImageStart            *string  `json:"image_start"`
	ImageEnd              *string  `json:"image_end"`
	ModelMode             string   `json:"model_mode"`
	VideoSource           *string  `json:"video_source"`
	KeepFramesVideoSource string   `json:"keep_frames_video_source"`
	InputVideoStrength    float64  `json:"input_video_strength"`
	VideoPromptType       string   `json:"video_prompt_type"`
	ImageRefs             []any    `json:"image_refs"`
	FramesPositions       []any    `json:"frames_positions"`
	VideoGuide            *string  `json:"video_guide"`
	ImageGuide            *string  `json:"image_guide"`
	KeepFramesVideoGuide  string   `json:"keep_frames_video_guide"`
	DenoisingStrength     float64  `json:"denoising_strength"`
	MaskingStrength       float64  `json:"masking_strength"`
	VideoGuideOutpainting string   `json:"video_guide_outpainting"`
	VideoMask             *string  `json:"video_mask"`
	ImageMask             *string  `json:"image_mask"`
	ControlNetWeight      float64  `json:"control_net_weight"`
	ControlNetWeight2     float64  `json:"control_net_weight2"`
	ControlNetWeightAlt   float64  `json:"control_net_weight_alt"`
	MotionAmplitude       float64  `json:"motion_amplitude"`
	MaskExpand            int      `json:"mask_expand"`

	// Audio conditioning.
	AudioGuide        *string `json:"audio_guide"`
	AudioGuide2       *string `json:"audio_guide2"`
	CustomGuide       *string `json:"custom_guide"`
	AudioSource       *string `json:"audio_source"`
	AudioPromptType   string  `json:"audio_prompt_type"`
	SpeakersLocations []any   `json:"speakers_locations"`

	// Sliding window generation.
	SlidingWindowSize                    int     `json:"sliding_window_size"`
	SlidingWindowOverlap                 int     `json:"sliding_window_overlap"`
	SlidingWindowColorCorrectionStrength float64 `json:"sliding_window_color_correction_strength"`
	SlidingWindowOverlapNoise            float64 `json:"sliding_window_overlap_noise"`
	SlidingWindowDiscardLastFrames       bool    `json:"sliding_window_discard_last_frames"`

	// Reference images and post-processing.
	ImageRefsRelativeSize     float64 `json:"image_refs_relative_size"`
	RemoveBackgroundImagesRef bool    `json:"remove_background_images_ref"`
	TemporalUpsampling        string  `json:"temporal_upsampling"`
	SpatialUpsampling         string  `json:"spatial_upsampling"`
	FilmGrainIntensity        float64 `json:"film_grain_intensity"`
	FilmGrainSaturation       float64 `json:"film_grain_saturation"`

	// Audio generation and frequency extension.
	MMAudioSetting   int    `json:"MMAudio_setting"`
	MMAudioPrompt    string `json:"MMAudio_prompt"`
	MMAudioNegPrompt string `json:"MMAudio_neg_prompt"`
	RIFLExSetting    int    `json:"RIFLEx_setting"`

	// Attention guidance.
	NAGScale      float64 `json:"NAG_scale"`
	NAGTau        float64 `json:"NAG_tau"`
	NAGAlpha      float64 `json:"NAG_alpha"`
	SLGSwitch     bool    `json:"slg_switch"`
	SLGLayers     []int   `json:"slg_layers"`
	SLGStartPerc  float64 `json:"slg_start_perc"`
	SLGEndPerc    float64 `json:"slg_end_perc"`
	APGSwitch     bool    `json:"apg_switch"`
	CFGStarSwitch bool    `json:"cfg_star_switch"`
	CFGZeroStep   int     `json:"cfg_zero_step"`

	// Advanced knobs.
	PromptEnhancer        int            `json:"prompt_enhancer"`
	MinFramesIfReferences int            `json:"min_frames_if_references"`
	OverrideProfile       int            `json:"override_profile"`
	OverrideAttention     string         `json:"override_attention"`
	Temperature           float64        `json:"temperature"`
	CustomSettings        map[string]any `json:"custom_settings"`
	TopP                  float64        `json:"top_p"`
	TopK                  int            `json:"top_k"`

	// Self refiner.
	SelfRefinerSetting           int     `json:"self_refiner_setting"`
	SelfRefinerPlan              []any   `json:"self_refiner_plan"`
	SelfRefinerFUncertainty      float64 `json:"self_refiner_f_uncertainty"`
	SelfRefinerCertainPercentage float64 `json:"self_refiner_certain_percentage"`

	// Output and dispatch.
	OutputFilename string `json:"output_filename"`
	ModelType      string `json:"model_type"`
	Mode           string `json:"mode"`

	// Extra holds request fields outside the named set. They ride along
	// into the payload verbatim but never shadow a named parameter.
	Extra map[string]any `json:"-"`
}

// Defaults returns the authoritative default parameter set for a task. Every
// engine default lives here and nowhere else; fields not listed take their
// zero value deliberately (disabled switches, empty selectors, zero scales).
func Defaults(taskID string) Params {
	return Params{
		Resolution:       "1280x720",
		VideoLength:      49,
		DurationSeconds:  2.0,
		BatchSize:        1,
		Seed:             -1,
		GuidancePhases:   1,
		ModelSwitchPhase: 0.5,

		NumInferenceSteps:   20,
		GuidanceScale:       7.5,
		SwitchThreshold:     0.5,
		SwitchThreshold2:    0.5,
		SampleSolver:        "euler",
		RepeatGeneration:    1,
		MultiPromptsGenType: "sequential",
		MultiImagesGenType:  "sequential",

		SkipStepsMultiplier: 1.0,

		ActivatedLoras:   []string{},
		LorasMultipliers: map[string]any{},

		ModelMode:          "wan",
		InputVideoStrength: 0.8,
		ImageRefs:          []any{},
		FramesPositions:    []any{},
		DenoisingStrength:  0.8,
		MaskingStrength:    1.0,
		ControlNetWeight:   1.0,
		ControlNetWeight2:  1.0,
		MotionAmplitude:    1.0,
		MaskExpand:         4,

		SpeakersLocations: []any{},

		ImageRefsRelativeSize: 1.0,

		NAGTau:     1.0,
		SLGLayers:  []int{},
		SLGEndPerc: 1.0,

		OverrideProfile: -1,
		Temperature:     1.0,
		CustomSettings:  map[string]any{},
		TopP:            1.0,
		TopK:            200,

		SelfRefinerPlan:              []any{},
		SelfRefinerFUncertainty:      0.5,
		SelfRefinerCertainPercentage: 50.0,

		OutputFilename: "proxy_" + taskID,
		ModelType:      "t2v_2_2",
		Mode:           "generate_video",
	}
}

// reservedKeys are payload keys owned by the calling machinery. Extras may
// never set them.
var reservedKeys = map[string]bool{
	"state":    true,
	"send_cmd": true,
}

var knownFields = buildKnownFields()

func buildKnownFields() map[string]bool {
	fields := make(map[string]bool)
	t := reflect.TypeOf(Params{})
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		fields[name] = true
	}
	return fields
}

// Known reports whether name is a named engine parameter.
func Known(name string) bool {
	return knownFields[name]
}

// Payload flattens the parameters into the single map the engine consumes.
// Named fields win over Extra on collision, and reserved keys are dropped.
func (p Params) Payload() (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	payload := make(map[string]any, len(knownFields)+len(p.Extra))
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("flatten params: %w", err)
	}

	for k, v := range p.Extra {
		if reservedKeys[k] {
			continue
		}
		if _, taken := payload[k]; taken {
			continue
		}
		payload[k] = v
	}
	return payload, nil
}
