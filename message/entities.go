package message

// Resource describes an IoT resource exposed by a platform's
// interworking service. The InterworkingServiceURL ties the resource to
// its owning platform and is the subject of ownership checks.
type Resource struct {
	ID                     string   `json:"id,omitempty"`
	Name                   string   `json:"name"`
	Description            []string `json:"description,omitempty"`
	InterworkingServiceURL string   `json:"interworkingServiceURL"`
	InformationModelID     string   `json:"informationModelId,omitempty"`
}

// GetID returns the resource id
func (r *Resource) GetID() string { return r.ID }

// SetID sets the resource id
func (r *Resource) SetID(id string) { r.ID = id }

// ServiceURL returns the interworking service URL binding this resource
// to its platform
func (r *Resource) ServiceURL() string { return r.InterworkingServiceURL }

// InformationModel describes a semantic information model registered with
// the federation. RDF carries the full graph-encoded model definition.
type InformationModel struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Owner     string `json:"owner,omitempty"`
	URI       string `json:"uri"`
	RDF       string `json:"rdf,omitempty"`
	RDFFormat string `json:"rdfFormat,omitempty"`
}

// GetID returns the information model id
func (im *InformationModel) GetID() string { return im.ID }

// SetID sets the information model id
func (im *InformationModel) SetID(id string) { im.ID = id }

// InterworkingService is a platform's service endpoint together with the
// information model it speaks
type InterworkingService struct {
	URL                string `json:"url"`
	InformationModelID string `json:"informationModelId,omitempty"`
}

// Platform is a federation member exposing one or more interworking services
type Platform struct {
	ID                   string                `json:"id,omitempty"`
	Name                 string                `json:"name"`
	Description          []string              `json:"description,omitempty"`
	InterworkingServices []InterworkingService `json:"interworkingServices"`
}

// GetID returns the platform id
func (p *Platform) GetID() string { return p.ID }

// SetID sets the platform id
func (p *Platform) SetID(id string) { p.ID = id }

// ServiceURLs returns the platform's interworking service URLs, normalized
func (p *Platform) ServiceURLs() []string {
	urls := make([]string, 0, len(p.InterworkingServices))
	for _, svc := range p.InterworkingServices {
		urls = append(urls, NormalizeServiceURL(svc.URL))
	}
	return urls
}

// HasServiceURL reports whether url belongs to this platform, comparing
// post-normalization
func (p *Platform) HasServiceURL(url string) bool {
	normalized := NormalizeServiceURL(url)
	for _, svc := range p.InterworkingServices {
		if NormalizeServiceURL(svc.URL) == normalized {
			return true
		}
	}
	return false
}

// Federation groups platforms that agreed to share resources
type Federation struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name"`
	Public  bool     `json:"public"`
	Members []string `json:"members,omitempty"`
}

// GetID returns the federation id
func (f *Federation) GetID() string { return f.ID }

// SetID sets the federation id
func (f *Federation) SetID(id string) { f.ID = id }

// SmartSpaceDevice describes a device registered under a smart space
// rather than a platform. Its service URL points at the smart space's
// gateway and is checked for ownership the same way resources are.
type SmartSpaceDevice struct {
	ID                 string   `json:"id,omitempty"`
	Name               string   `json:"name"`
	Description        []string `json:"description,omitempty"`
	SspID              string   `json:"sspId"`
	AccessURL          string   `json:"accessUrl"`
	InformationModelID string   `json:"informationModelId,omitempty"`
}

// GetID returns the device id
func (d *SmartSpaceDevice) GetID() string { return d.ID }

// SetID sets the device id
func (d *SmartSpaceDevice) SetID(id string) { d.ID = id }

// ServiceURL returns the device's access URL for ownership checks
func (d *SmartSpaceDevice) ServiceURL() string { return d.AccessURL }
