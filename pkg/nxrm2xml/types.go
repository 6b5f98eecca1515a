// Package nxrm2xml defines the NXRM2 wire types shared by the XML and JSON
// renderers: one logical response model per endpoint, tagged for both
// encoding/xml and encoding/json, so a single construction produces either
// wire shape depending on the caller's Accept header.
package nxrm2xml

import "encoding/xml"

// Properties renders NXRM2's empty `<properties class="linked-hash-map" />`
// element (XML) or `{"@class": "linked-hash-map"}` (JSON). The supported
// publishing plugins only check for its presence, never its contents.
type Properties struct{}

// MarshalXML writes the class attribute NXRM2 always includes on this
// leaf, even though the map itself is always empty here.
func (Properties) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Attr = []xml.Attr{{Name: xml.Name{Local: "class"}, Value: "linked-hash-map"}}
	return e.EncodeElement(struct{}{}, start)
}

// MarshalJSON mirrors the XML attribute as a JSON field, matching the
// original implementation's hand-written Serialize impl.
func (Properties) MarshalJSON() ([]byte, error) {
	return []byte(`{"@class":"linked-hash-map"}`), nil
}

// StagingProfile is the profile descriptor NXRM2 publishing plugins expect
// from profile-list, profile_evaluate, and profile-lookup endpoints.
type StagingProfile struct {
	ResourceURI               string     `xml:"resourceURI" json:"resourceURI"`
	ID                        string     `xml:"id" json:"id"`
	Name                      string     `xml:"name" json:"name"`
	RepositoryType            string     `xml:"repositoryType" json:"repositoryType"`
	RepositoryTemplateID      string     `xml:"repositoryTemplateId" json:"repositoryTemplateId"`
	RepositoryTargetID        string     `xml:"repositoryTargetId" json:"repositoryTargetId"`
	InProgress                bool       `xml:"inProgress" json:"inProgress"`
	Order                     int        `xml:"order" json:"order"`
	DeployURI                 string     `xml:"deployURI" json:"deployURI"`
	TargetGroups              []string   `xml:"targetGroups>string" json:"targetGroups"`
	FinishNotifyRoles         []string   `xml:"finishNotifyRoles>string" json:"finishNotifyRoles"`
	PromotionNotifyRoles      []string   `xml:"promotionNotifyRoles>string" json:"promotionNotifyRoles"`
	DropNotifyRoles           []string   `xml:"dropNotifyRoles>string" json:"dropNotifyRoles"`
	CloseRuleSets             []string   `xml:"closeRuleSets>string" json:"closeRuleSets"`
	PromoteRuleSets           []string   `xml:"promoteRuleSets>string" json:"promoteRuleSets"`
	PromotionTargetRepository string     `xml:"promotionTargetRepository" json:"promotionTargetRepository"`
	Mode                      string     `xml:"mode" json:"mode"`
	FinishNotifyCreator       bool       `xml:"finishNotifyCreator" json:"finishNotifyCreator"`
	PromotionNotifyCreator    bool       `xml:"promotionNotifyCreator" json:"promotionNotifyCreator"`
	DropNotifyCreator         bool       `xml:"dropNotifyCreator" json:"dropNotifyCreator"`
	AutoStagingDisabled       bool       `xml:"autoStagingDisabled" json:"autoStagingDisabled"`
	RepositoriesSearchable    bool       `xml:"repositoriesSearchable" json:"repositoriesSearchable"`
	Properties                Properties `xml:"properties" json:"properties"`
}

// NewStagingProfile builds the synthetic profile NXRM2 clients expect for
// namespace, grounded on the literal defaults the original implementation
// hard-codes (staging.rs's StagingProfile::new).
func NewStagingProfile(baseURL, namespace, resourceURI string) StagingProfile {
	return StagingProfile{
		ResourceURI:               resourceURI,
		ID:                        namespace,
		Name:                      namespace,
		RepositoryType:            "maven2",
		RepositoryTemplateID:      "default_hosted_release",
		RepositoryTargetID:        "repository_target_id",
		InProgress:                false,
		Order:                     12345,
		DeployURI:                 baseURL + "/service/local/staging/deploy/maven2",
		TargetGroups:              []string{"staging"},
		FinishNotifyRoles:         []string{namespace + "-deployer"},
		PromotionNotifyRoles:      []string{},
		DropNotifyRoles:           []string{},
		CloseRuleSets:             []string{"close_rule_set"},
		PromoteRuleSets:           []string{},
		PromotionTargetRepository: "releases",
		Mode:                      "BOTH",
		FinishNotifyCreator:       true,
		PromotionNotifyCreator:    true,
		DropNotifyCreator:         true,
		AutoStagingDisabled:       false,
		RepositoriesSearchable:    false,
		Properties:                Properties{},
	}
}

// StagingProfilesEvaluateResponse answers profile-list and profile_evaluate.
type StagingProfilesEvaluateResponse struct {
	XMLName xml.Name         `xml:"stagingProfiles" json:"-"`
	Data    []StagingProfile `xml:"data>stagingProfile" json:"data"`
}

// StagingProfilesResponse answers the profile-lookup-by-id endpoint.
type StagingProfilesResponse struct {
	XMLName xml.Name       `xml:"profileResponse" json:"-"`
	Data    StagingProfile `xml:"data" json:"data"`
}

// PromoteRequestData is the `<data>` leaf read off a `start` or `finish`
// request body; unknown sibling elements are ignored by the XML decoder.
type PromoteRequestData struct {
	StagedRepositoryID string `xml:"stagedRepositoryId" json:"stagedRepositoryId"`
	Description        string `xml:"description" json:"description"`
}

// PromoteRequest wraps PromoteRequestData for both the start and finish
// request bodies.
type PromoteRequest struct {
	XMLName xml.Name           `xml:"promoteRequest" json:"-"`
	Data    PromoteRequestData `xml:"data" json:"data"`
}

// PromoteResponseData is the `<data>` leaf returned by `start`.
type PromoteResponseData struct {
	StagedRepositoryID string `xml:"stagedRepositoryId" json:"stagedRepositoryId"`
	Description        string `xml:"description" json:"description"`
}

// PromoteResponse is returned by the `start` handler.
type PromoteResponse struct {
	XMLName xml.Name            `xml:"promoteResponse" json:"-"`
	Data    PromoteResponseData `xml:"data" json:"data"`
}

// StagingActionRequestData is the `<data>` leaf of bulk/close and
// bulk/promote request bodies.
type StagingActionRequestData struct {
	StagedRepositoryIDs  []string `xml:"stagedRepositoryIds>string" json:"stagedRepositoryIds"`
	Description          string   `xml:"description" json:"description"`
	AutoDropAfterRelease bool     `xml:"autoDropAfterRelease" json:"autoDropAfterRelease"`
}

// StagingActionRequest wraps StagingActionRequestData for bulk/close and
// bulk/promote.
type StagingActionRequest struct {
	XMLName xml.Name                  `xml:"stagingActionRequest" json:"-"`
	Data    StagingActionRequestData `xml:"data" json:"data"`
}

// StagingProfileRepositoryResponse answers the repository poll endpoint.
type StagingProfileRepositoryResponse struct {
	XMLName               xml.Name `xml:"stagingProfileRepository" json:"-"`
	ProfileID             string   `xml:"profileId" json:"profileId"`
	ProfileName           string   `xml:"profileName" json:"profileName"`
	ProfileType           string   `xml:"profileType" json:"profileType"`
	RepositoryID          string   `xml:"repositoryId" json:"repositoryId"`
	Type                  string   `xml:"type" json:"type"`
	Policy                string   `xml:"policy" json:"policy"`
	UserID                string   `xml:"userId" json:"userId"`
	UserAgent             string   `xml:"userAgent" json:"userAgent"`
	IPAddress             string   `xml:"ipAddress" json:"ipAddress"`
	RepositoryURI         string   `xml:"repositoryURI" json:"repositoryURI"`
	Created               string   `xml:"created" json:"created"`
	CreatedDate           string   `xml:"createdDate" json:"createdDate"`
	CreatedTimestamp      int64    `xml:"createdTimestamp" json:"createdTimestamp"`
	Updated               string   `xml:"updated" json:"updated"`
	UpdatedDate           string   `xml:"updatedDate" json:"updatedDate"`
	UpdatedTimestamp      int64    `xml:"updatedTimestamp" json:"updatedTimestamp"`
	Description           string   `xml:"description" json:"description"`
	Provider              string   `xml:"provider" json:"provider"`
	ReleaseRepositoryID   string   `xml:"releaseRepositoryId" json:"releaseRepositoryId"`
	ReleaseRepositoryName string   `xml:"releaseRepositoryName" json:"releaseRepositoryName"`
	Notifications         int      `xml:"notifications" json:"notifications"`
	Transitioning         bool     `xml:"transitioning" json:"transitioning"`
}

// StatusResponse answers GET /service/local/status with a Nexus 2.x
// version string the supported plugins accept.
type StatusResponse struct {
	XMLName xml.Name   `xml:"status" json:"-"`
	Data    StatusData `xml:"data" json:"data"`
}

// StatusData carries the version fields NXRM2 publishing plugins check.
type StatusData struct {
	AppName        string `xml:"appName" json:"appName"`
	FormattedAppName string `xml:"formattedAppName" json:"formattedAppName"`
	Version        string `xml:"version" json:"version"`
	APIVersion     string `xml:"apiVersion" json:"apiVersion"`
	EditionLong    string `xml:"editionLong" json:"editionLong"`
	State          string `xml:"state" json:"state"`
}

// ErrorResponse is the NXRM2-shaped error body rendered for all error
// kinds (spec.md section 7): one or more <error> entries, each naming the
// failing field (or "*" for request-level errors) and a human message.
type ErrorResponse struct {
	XMLName xml.Name    `xml:"errors" json:"-"`
	Errors  []ErrorItem `xml:"error" json:"errors"`
}

// ErrorItem is one NXRM2 error entry.
type ErrorItem struct {
	ID  string `xml:"id" json:"id"`
	Msg string `xml:"msg" json:"msg"`
}

// NewErrorResponse builds a single-entry ErrorResponse, the shape used for
// request-level errors; the bulk handlers build multi-entry responses,
// one entry per failed id.
func NewErrorResponse(field, message string) ErrorResponse {
	return ErrorResponse{Errors: []ErrorItem{{ID: field, Msg: message}}}
}
