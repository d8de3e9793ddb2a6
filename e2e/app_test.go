package e2e

import (
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// E2ETestSuite provides a test suite for end-to-end tests
type E2ETestSuite struct {
	suite.Suite
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	expect  playwright.PlaywrightAssertions
}

// SetupSuite runs once before all tests
func (suite *E2ETestSuite) SetupSuite() {
	pw, err := playwright.Run()
	require.NoError(suite.T(), err, "could not launch playwright")
	suite.pw = pw

	browser, err := pw.Chromium.Launch()
	require.NoError(suite.T(), err, "could not launch chromium")
	suite.browser = browser

	suite.expect = playwright.NewPlaywrightAssertions()
}

// TearDownSuite runs once after all tests
func (suite *E2ETestSuite) TearDownSuite() {
	if suite.browser != nil {
		suite.browser.Close()
	}
	if suite.pw != nil {
		suite.pw.Stop()
	}
}

// SetupTest runs before each test
func (suite *E2ETestSuite) SetupTest() {
	page, err := suite.browser.NewPage()
	require.NoError(suite.T(), err, "could not create page")
	suite.page = page

	_, err = suite.page.Goto(appURL)
	require.NoError(suite.T(), err, "could not navigate to app")
}

// TearDownTest runs after each test
func (suite *E2ETestSuite) TearDownTest() {
	if suite.page != nil {
		suite.page.Close()
	}
}

func (suite *E2ETestSuite) login() {
	// Wait for login form
	err := suite.expect.Locator(suite.page.Locator(".login-form")).ToBeVisible()
	require.NoError(suite.T(), err, "login form not visible")

	// Fill in credentials
	err = suite.page.Locator("input[name=username]").Fill(adminUser)
	require.NoError(suite.T(), err, "failed to fill username")

	err = suite.page.Locator("input[name=password]").Fill(adminPassword)
	require.NoError(suite.T(), err, "failed to fill password")

	// Submit login
	err = suite.page.Locator(".login-btn").Click()
	require.NoError(suite.T(), err, "failed to click login")

	// Wait for redirect to expenses page
	err = suite.expect.Locator(suite.page.Locator(".list-screen")).ToBeVisible()
	require.NoError(suite.T(), err, "did not redirect to expenses page after login")
}

func (suite *E2ETestSuite) addExpense(date, category, amount, description string) {
	_, err := suite.page.Goto(appURL + "/add")
	require.NoError(suite.T(), err, "failed to open add form")

	err = suite.expect.Locator(suite.page.Locator(".expense-form")).ToBeVisible()
	require.NoError(suite.T(), err, "expense form not visible")

	require.NoError(suite.T(), suite.page.Locator("input[name=date]").Fill(date), "failed to fill date")
	require.NoError(suite.T(), suite.page.Locator("input[name=category]").Fill(category), "failed to fill category")
	require.NoError(suite.T(), suite.page.Locator("input[name=amount]").Fill(amount), "failed to fill amount")
	require.NoError(suite.T(), suite.page.Locator("input[name=description]").Fill(description), "failed to fill description")

	err = suite.page.Locator(".save-btn").Click()
	require.NoError(suite.T(), err, "failed to submit expense")

	err = suite.expect.Locator(suite.page.Locator(".list-screen")).ToBeVisible()
	require.NoError(suite.T(), err, "did not return to the list after saving")
}

func (suite *E2ETestSuite) TestCompleteUserFlow() {
	// Login
	suite.login()

	// Verify Homepage
	err := suite.expect.Locator(suite.page.Locator(".summary small").First()).ToHaveText("Spent in total")
	require.NoError(suite.T(), err, "homepage assertion failed")

	suite.addExpense("2024-01-15", "Food", "12.50", "Lunch Test")

	// Verify in List
	item := suite.page.Locator(".expense-item", playwright.PageLocatorOptions{HasText: "Lunch Test"})
	err = suite.expect.Locator(item).ToHaveCount(1)
	require.NoError(suite.T(), err, "expense item count mismatch")

	err = suite.expect.Locator(item.Locator(".amount")).ToContainText("12.50")
	require.NoError(suite.T(), err, "amount mismatch")

	// Edit it
	err = item.Locator(".edit-link").Click()
	require.NoError(suite.T(), err, "failed to open edit form")
	require.NoError(suite.T(), suite.page.Locator("input[name=amount]").Fill("14.00"))
	require.NoError(suite.T(), suite.page.Locator(".save-btn").Click())

	err = suite.expect.Locator(item.Locator(".amount")).ToContainText("14.00")
	require.NoError(suite.T(), err, "edited amount not shown")

	// Delete it
	err = item.Locator(".delete-link").Click()
	require.NoError(suite.T(), err, "failed to open delete confirmation")
	require.NoError(suite.T(), suite.page.Locator(".danger-btn").Click())

	err = suite.expect.Locator(suite.page.Locator(".expense-item", playwright.PageLocatorOptions{HasText: "Lunch Test"})).ToHaveCount(0)
	require.NoError(suite.T(), err, "deleted expense still listed")
}

func (suite *E2ETestSuite) TestInvalidAmountShowsMessage() {
	suite.login()

	_, err := suite.page.Goto(appURL + "/add")
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.page.Locator("input[name=date]").Fill("2024-01-15"))
	require.NoError(suite.T(), suite.page.Locator("input[name=amount]").Fill("twelve"))
	require.NoError(suite.T(), suite.page.Locator(".save-btn").Click())

	err = suite.expect.Locator(suite.page.Locator(".error")).ToHaveText("Invalid amount")
	require.NoError(suite.T(), err, "validation message not shown")
}

func (suite *E2ETestSuite) TestSearchAndDashboard() {
	suite.login()

	suite.addExpense("2023-06-01", "Transport", "7.00", "Search Tram")
	suite.addExpense("2023-06-20", "Transport", "70.00", "Search Flight")

	_, err := suite.page.Goto(appURL + "/search?start_date=2023-06-01&end_date=2023-06-10")
	require.NoError(suite.T(), err)
	err = suite.expect.Locator(suite.page.Locator(".results .expense-item")).ToHaveCount(1)
	require.NoError(suite.T(), err, "date range search mismatch")
	err = suite.expect.Locator(suite.page.Locator(".results")).ToContainText("Search Tram")
	require.NoError(suite.T(), err)

	_, err = suite.page.Goto(appURL + "/search?min_amount=100&max_amount=1")
	require.NoError(suite.T(), err)
	err = suite.expect.Locator(suite.page.Locator(".error")).ToContainText("Minimum amount must not exceed maximum amount")
	require.NoError(suite.T(), err, "range validation message not shown")

	_, err = suite.page.Goto(appURL + "/dashboard")
	require.NoError(suite.T(), err)
	err = suite.expect.Locator(suite.page.Locator(".largest-list")).ToContainText("Search Flight")
	require.NoError(suite.T(), err, "largest expenses missing")
}

// TestE2ESuite runs the e2e test suite
func TestE2ESuite(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}
