package uiautomator2

import (
	"fmt"
)

const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Element represents a UI element on the device.
type Element struct {
	id     string
	client *Client
}

// ID returns the element ID.
func (e *Element) ID() string {
	return e.id
}

type elementRef map[string]interface{}

func (r elementRef) id() string {
	if id, ok := r[w3cElementKey].(string); ok && id != "" {
		return id
	}
	id, _ := r["ELEMENT"].(string)
	return id
}

// FindElement finds a single element.
func (c *Client) FindElement(strategy, selector string) (*Element, error) {
	return c.FindElementWithContext(strategy, selector, "")
}

// FindElementWithContext finds an element within a parent element.
func (c *Client) FindElementWithContext(strategy, selector, contextID string) (*Element, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	req := FindElementRequest{
		Strategy: strategy,
		Selector: selector,
		Context:  contextID,
	}
	return c.findOne(c.sessionPath("/element"), req)
}

func (c *Client) findOne(path string, req FindElementRequest) (*Element, error) {
	var ref elementRef
	if err := c.call("POST", path, req, &ref); err != nil {
		return nil, err
	}
	id := ref.id()
	if id == "" {
		return nil, fmt.Errorf("element not found: %s=%s", req.Strategy, req.Selector)
	}
	return &Element{id: id, client: c}, nil
}

func (c *Client) findMany(path string, req FindElementRequest) ([]*Element, error) {
	var refs []elementRef
	if err := c.call("POST", path, req, &refs); err != nil {
		return nil, err
	}
	elements := make([]*Element, 0, len(refs))
	for _, r := range refs {
		elements = append(elements, &Element{id: r.id(), client: c})
	}
	return elements, nil
}

// FindElements finds multiple elements.
func (c *Client) FindElements(strategy, selector string) ([]*Element, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	return c.findMany(c.sessionPath("/elements"), FindElementRequest{Strategy: strategy, Selector: selector})
}

// FindElement finds a descendant of e.
func (e *Element) FindElement(strategy, selector string) (*Element, error) {
	return e.client.findOne(e.path("/element"), FindElementRequest{Strategy: strategy, Selector: selector})
}

// FindElements finds descendants of e.
func (e *Element) FindElements(strategy, selector string) ([]*Element, error) {
	return e.client.findMany(e.path("/elements"), FindElementRequest{Strategy: strategy, Selector: selector})
}

func (e *Element) path(suffix string) string {
	return e.client.sessionPath("/element/" + e.id + suffix)
}

// Text returns the element's text content.
func (e *Element) Text() (string, error) {
	var text string
	err := e.client.call("GET", e.path("/text"), nil, &text)
	return text, err
}

// Attribute returns an element attribute.
func (e *Element) Attribute(name string) (string, error) {
	var attr string
	err := e.client.call("GET", e.path("/attribute/"+name), nil, &attr)
	return attr, err
}

// Rect returns the element's bounds.
func (e *Element) Rect() (ElementRect, error) {
	var rect ElementRect
	err := e.client.call("GET", e.path("/rect"), nil, &rect)
	return rect, err
}

// IsDisplayed checks if the element is visible.
func (e *Element) IsDisplayed() (bool, error) {
	attr, err := e.Attribute("displayed")
	if err != nil {
		return false, err
	}
	return attr == "true", nil
}

// IsEnabled checks if the element is enabled.
func (e *Element) IsEnabled() (bool, error) {
	attr, err := e.Attribute("enabled")
	if err != nil {
		return false, err
	}
	return attr == "true", nil
}
